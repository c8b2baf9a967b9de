package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/boardsync/internal/ado"
	"github.com/roach88/boardsync/internal/config"
	"github.com/roach88/boardsync/internal/github"
	"github.com/roach88/boardsync/internal/idmap"
	"github.com/roach88/boardsync/internal/journal"
	"github.com/roach88/boardsync/internal/reconcile"
	"github.com/roach88/boardsync/internal/remote"
	"github.com/roach88/boardsync/internal/xref"
)

// Backends builds the collaborators a command talks to. Every field is
// required; DefaultBackends wires the real clients.
type Backends struct {
	// Store returns the work item store.
	Store func(cfg *config.Config) (remote.Store, error)

	// Tracker returns the issue tracker, or nil to skip the
	// cross-reference step.
	Tracker func(cfg *config.Config) xref.IssueTracker

	// Resolver returns the fallback identity resolver, or nil for none.
	Resolver func(cfg *config.Config) (reconcile.IdentityResolver, error)

	// JournalOptions are passed to journal.Open.
	JournalOptions []journal.Option

	// Getenv reads the environment (GITHUB_EVENT_PATH, GITHUB_OUTPUT).
	Getenv func(key string) string
}

// DefaultBackends returns backends over the REST clients.
func DefaultBackends() *Backends {
	return &Backends{
		Store: func(cfg *config.Config) (remote.Store, error) {
			return ado.New(ado.Config{
				BaseURL:      cfg.ADO.BaseURL,
				Organization: cfg.ADO.Organization,
				Token:        cfg.ADO.Token,
			})
		},
		Tracker: func(cfg *config.Config) xref.IssueTracker {
			if cfg.GitHub.Token == "" {
				return nil
			}
			return github.New(cfg.GitHub.APIURL, cfg.GitHub.Token)
		},
		Resolver: func(cfg *config.Config) (reconcile.IdentityResolver, error) {
			if !cfg.IDMapping.Enabled() {
				return nil, nil
			}
			return idmap.New(cfg.IDMapping.URL, cfg.IDMapping.PAT, cfg.IDMapping.Query)
		},
		Getenv: os.Getenv,
	}
}

// setupLogging installs the default slog handler. Logs go to w so stdout
// stays reserved for command output.
func setupLogging(w io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// loadConfig loads and validates configuration. Any failure is a command
// error (exit 2).
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// engineOptions maps configuration onto engine options.
func engineOptions(cfg *config.Config) reconcile.Options {
	return reconcile.Options{
		Project:      cfg.ADO.Project,
		WorkItemType: cfg.ADO.WorkItemType,
		ClosedState:  cfg.ADO.CloseState,
		NewState:     cfg.ADO.NewState,
		AreaPath:     cfg.ADO.AreaPath,
		BypassRules:  cfg.ADO.BypassRules,
	}
}

// buildEngine assembles an engine over store. The tracker is only wired
// when link is true.
func buildEngine(b *Backends, cfg *config.Config, store remote.Store, link bool) (*reconcile.Engine, error) {
	var options []reconcile.Option
	if link {
		if tracker := b.Tracker(cfg); tracker != nil {
			options = append(options, reconcile.WithTracker(tracker))
		} else {
			slog.Debug("no GitHub token configured; cross-reference disabled")
		}
	}

	resolver, err := b.Resolver(cfg)
	if err != nil {
		return nil, fmt.Errorf("identity mapping: %w", err)
	}
	if resolver != nil {
		options = append(options, reconcile.WithResolver(resolver))
	}

	return reconcile.New(store, engineOptions(cfg), options...), nil
}
