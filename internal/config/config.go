// Package config loads boardsync settings from an optional YAML file and
// the environment. Environment variables use the names the original
// automation inputs used (ADO_TOKEN, ADO_PROJECT, ...) and take
// precedence over the file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultWorkItemType = "Issue"
	DefaultCloseState   = "Closed"
	DefaultNewState     = "New"
	DefaultADOBaseURL   = "https://dev.azure.com"
	DefaultGitHubAPIURL = "https://api.github.com"
)

// ADO holds the Azure DevOps connection and target.
type ADO struct {
	Organization string `mapstructure:"organization" json:"organization" yaml:"organization"`
	Token        string `mapstructure:"token" json:"token" yaml:"token"`
	Project      string `mapstructure:"project" json:"project" yaml:"project"`
	AreaPath     string `mapstructure:"area_path" json:"area_path" yaml:"area_path"`
	WorkItemType string `mapstructure:"wit" json:"wit" yaml:"wit"`
	CloseState   string `mapstructure:"close_state" json:"close_state" yaml:"close_state"`
	NewState     string `mapstructure:"new_state" json:"new_state" yaml:"new_state"`
	BypassRules  bool   `mapstructure:"bypass_rules" json:"bypass_rules" yaml:"bypass_rules"`
	BaseURL      string `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
}

// GitHub holds the token used to write the cross-reference. Without a
// token the cross-reference step is skipped.
type GitHub struct {
	Token  string `mapstructure:"token" json:"token" yaml:"token"`
	APIURL string `mapstructure:"api_url" json:"api_url" yaml:"api_url"`
}

// IDMapping configures the optional identity-mapping service.
type IDMapping struct {
	URL   string `mapstructure:"url" json:"url" yaml:"url"`
	PAT   string `mapstructure:"pat" json:"pat" yaml:"pat"`
	Query string `mapstructure:"query" json:"query" yaml:"query"`
}

// Enabled reports whether a mapping service is configured.
func (m IDMapping) Enabled() bool {
	return m.URL != ""
}

// Config is the full configuration.
type Config struct {
	ADO       ADO       `mapstructure:"ado" json:"ado" yaml:"ado"`
	GitHub    GitHub    `mapstructure:"github" json:"github" yaml:"github"`
	IDMapping IDMapping `mapstructure:"id_mapping" json:"id_mapping" yaml:"id_mapping"`

	// Journal is the SQLite run journal path. Empty disables journaling.
	Journal string `mapstructure:"journal" json:"journal" yaml:"journal"`

	// LockFile, when set, is held exclusively for the whole invocation.
	LockFile string `mapstructure:"lock_file" json:"lock_file" yaml:"lock_file"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"ado.organization": "ADO_ORGANIZATION",
	"ado.token":        "ADO_TOKEN",
	"ado.project":      "ADO_PROJECT",
	"ado.area_path":    "ADO_AREA_PATH",
	"ado.wit":          "ADO_WIT",
	"ado.close_state":  "ADO_CLOSE_STATE",
	"ado.new_state":    "ADO_NEW_STATE",
	"ado.bypass_rules": "ADO_BYPASSRULES",
	"ado.base_url":     "ADO_BASE_URL",
	"github.token":     "GITHUB_TOKEN",
	"github.api_url":   "GITHUB_API_URL",
	"id_mapping.url":   "ID_MAPPING_URL",
	"id_mapping.pat":   "ID_MAPPING_PAT",
	"id_mapping.query": "ID_MAPPING_QUERY",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// BOARDSYNC_JOURNAL, BOARDSYNC_LOCK_FILE
	v.SetEnvPrefix("BOARDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	v.SetDefault("ado.organization", "")
	v.SetDefault("ado.token", "")
	v.SetDefault("ado.project", "")
	v.SetDefault("ado.area_path", "")
	v.SetDefault("ado.wit", DefaultWorkItemType)
	v.SetDefault("ado.close_state", DefaultCloseState)
	v.SetDefault("ado.new_state", DefaultNewState)
	v.SetDefault("ado.bypass_rules", false)
	v.SetDefault("ado.base_url", DefaultADOBaseURL)
	v.SetDefault("github.token", "")
	v.SetDefault("github.api_url", DefaultGitHubAPIURL)
	v.SetDefault("id_mapping.url", "")
	v.SetDefault("id_mapping.pat", "")
	v.SetDefault("id_mapping.query", "")
	v.SetDefault("journal", "")
	v.SetDefault("lock_file", "")
	return v
}

// Load reads configuration from path (optional) and the environment. It
// does not validate; call Validate on the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	out.ADO.Token = mask(out.ADO.Token)
	out.GitHub.Token = mask(out.GitHub.Token)
	out.IDMapping.PAT = mask(out.IDMapping.PAT)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
