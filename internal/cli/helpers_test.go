package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/boardsync/internal/config"
	"github.com/roach88/boardsync/internal/journal"
	"github.com/roach88/boardsync/internal/locator"
	"github.com/roach88/boardsync/internal/reconcile"
	"github.com/roach88/boardsync/internal/remote"
	"github.com/roach88/boardsync/internal/testutil"
	"github.com/roach88/boardsync/internal/xref"
)

// configEnv lists every variable config.Load reads.
var configEnv = []string{
	"ADO_ORGANIZATION", "ADO_TOKEN", "ADO_PROJECT", "ADO_AREA_PATH", "ADO_WIT",
	"ADO_CLOSE_STATE", "ADO_NEW_STATE", "ADO_BYPASSRULES", "ADO_BASE_URL",
	"GITHUB_TOKEN", "GITHUB_API_URL",
	"ID_MAPPING_URL", "ID_MAPPING_PAT", "ID_MAPPING_QUERY",
	"BOARDSYNC_JOURNAL", "BOARDSYNC_LOCK_FILE",
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, env := range configEnv {
		t.Setenv(env, "")
	}
}

const baseConfig = `ado:
  organization: contoso
  token: secret-pat
  project: Fabrikam
`

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boardsync.yaml")
	writeFile(t, path, baseConfig+extra)
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// fixture is a seeded store and tracker behind fake backends.
type fixture struct {
	store   *testutil.MemoryStore
	tracker *testutil.MemoryTracker
	env     map[string]string
	b       *Backends
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	isolateEnv(t)

	f := &fixture{
		store:   testutil.NewMemoryStore(),
		tracker: testutil.NewMemoryTracker(),
		env:     map[string]string{},
	}
	f.store.Seed(&remote.WorkItem{ID: 1, Fields: map[string]any{
		remote.FieldTitle: locator.ControlTitle,
		remote.FieldTags:  "GitHub Issue; app",
		remote.FieldState: "New",
	}})
	f.store.AddComment(1, "alice@fabrikam.com", `{"gitHubAlias":"alice","labels":["bug"]}`)
	f.tracker.Put(xref.IssueRef{Owner: "octo", Repo: "app", Number: 7}, "steps...")

	f.b = &Backends{
		Store: func(cfg *config.Config) (remote.Store, error) { return f.store, nil },
		Tracker: func(cfg *config.Config) xref.IssueTracker {
			return f.tracker
		},
		Resolver: func(cfg *config.Config) (reconcile.IdentityResolver, error) { return nil, nil },
		JournalOptions: []journal.Option{
			journal.WithIDGenerator(testutil.NewFixedRunIDGenerator("run-1", "run-2", "run-3")),
			journal.WithClock(testutil.NewStepClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Second).Now),
		},
		Getenv: func(key string) string { return f.env[key] },
	}
	return f
}

// seedIssueRecord stores the work item for issue #7.
func (f *fixture) seedIssueRecord(state string) {
	f.store.Seed(&remote.WorkItem{ID: 5, Fields: map[string]any{
		remote.FieldTitle:       "Crash on save (GitHub Issue #7)",
		remote.FieldDescription: "steps...",
		remote.FieldTags:        "GitHub Issue; app",
		remote.FieldState:       state,
	}})
}

// run executes the root command with args and returns stdout, stderr and
// the command error.
func (f *fixture) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	opts := &RootOptions{Backends: f.b}
	cmd := newRootCommand(opts)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func issuePayload(action, state string, extra map[string]any) map[string]any {
	p := map[string]any{
		"action": action,
		"issue": map[string]any{
			"number":   7,
			"title":    "Crash on save",
			"state":    state,
			"body":     "steps...",
			"html_url": "https://github.com/octo/app/issues/7",
		},
		"repository": map[string]any{
			"name":      "app",
			"full_name": "octo/app",
			"html_url":  "https://github.com/octo/app",
			"owner":     map[string]any{"login": "octo"},
		},
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func writeEvent(t *testing.T, payload map[string]any) string {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func labeledEvent(t *testing.T, label string) string {
	return writeEvent(t, issuePayload("labeled", "open", map[string]any{
		"label": map[string]any{"name": label},
	}))
}

func decodeResponse(t *testing.T, out string) (CLIResponse, map[string]any) {
	t.Helper()
	var raw struct {
		CLIResponse
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	return raw.CLIResponse, raw.Data
}
