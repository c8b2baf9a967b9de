package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate_Valid(t *testing.T) {
	f := newFixture(t)

	stdout, _, err := f.run(t, "config", "validate", "--config", writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "✓ Configuration is valid\n", stdout)
}

func TestConfigValidate_ReportsProblems(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "boardsync.yaml")
	writeFile(t, path, "ado:\n  organization: contoso\n")

	stdout, _, err := f.run(t, "config", "validate", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "problem(s) found:")
	assert.Contains(t, stdout, "project")
	assert.Contains(t, stdout, "token")
}

func TestConfigValidate_JSON(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "boardsync.yaml")
	writeFile(t, path, "ado:\n  organization: contoso\n  token: pat\n")

	stdout, _, err := f.run(t, "config", "validate", "--config", path, "--format", "json")
	require.Error(t, err)

	resp, data := decodeResponse(t, stdout)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
	assert.Equal(t, false, data["valid"])
	assert.NotEmpty(t, data["problems"])
}

func TestConfigValidate_EnvironmentOnly(t *testing.T) {
	f := newFixture(t)
	t.Setenv("ADO_ORGANIZATION", "contoso")
	t.Setenv("ADO_TOKEN", "pat")
	t.Setenv("ADO_PROJECT", "Fabrikam")

	_, _, err := f.run(t, "config", "validate")
	require.NoError(t, err)
}

func TestConfigValidate_UnreadableFile(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "config", "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	f := newFixture(t)
	t.Setenv("GITHUB_TOKEN", "ghp_secret")

	stdout, _, err := f.run(t, "config", "show", "--config", writeConfig(t, ""))
	require.NoError(t, err)

	assert.Contains(t, stdout, "organization: contoso")
	assert.Contains(t, stdout, "project: Fabrikam")
	assert.Contains(t, stdout, "wit: Issue")
	assert.Contains(t, stdout, "****")
	assert.NotContains(t, stdout, "secret-pat")
	assert.NotContains(t, stdout, "ghp_secret")
}

func TestConfigShow_JSON(t *testing.T) {
	f := newFixture(t)

	stdout, _, err := f.run(t, "config", "show", "--config", writeConfig(t, ""), "--format", "json")
	require.NoError(t, err)

	_, data := decodeResponse(t, stdout)
	ado := data["ado"].(map[string]any)
	assert.Equal(t, "contoso", ado["organization"])
	assert.Equal(t, "****", ado["token"])
}
