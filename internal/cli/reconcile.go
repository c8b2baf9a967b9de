package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/roach88/boardsync/internal/config"
	"github.com/roach88/boardsync/internal/event"
	"github.com/roach88/boardsync/internal/journal"
	"github.com/roach88/boardsync/internal/reconcile"
	"github.com/roach88/boardsync/internal/remote"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	EventPath   string
	DeliveryID  string
	DryRun      bool
	Journal     string
	LockTimeout time.Duration
}

// WriteOutput is a store write reported by a dry run.
type WriteOutput struct {
	Method string          `json:"method"`
	ID     int             `json:"id,omitempty"`
	Patch  remote.Document `json:"patch"`
}

// ReconcileOutput is the result of one invocation.
type ReconcileOutput struct {
	Action   string        `json:"action,omitempty"`
	RecordID int           `json:"record_id,omitempty"`
	Approver string        `json:"approver,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	DryRun   bool          `json:"dry_run,omitempty"`
	Writes   []WriteOutput `json:"writes,omitempty"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile one issue event with Azure Boards",
		Long: `Reconcile one GitHub issue webhook delivery with its Azure DevOps work item.

The payload is read from --event, or from $GITHUB_EVENT_PATH when the flag
is not set. The id of the affected work item is printed on stdout and, when
$GITHUB_OUTPUT is set, appended to it as id=<n>.

Exit codes:
  0 - Reconciled (including deliberate no-ops)
  1 - Reconciliation failed (remote call, conflict, cross-reference)
  2 - Command error (configuration, unreadable event, lock)

Examples:
  boardsync reconcile --event ./event.json
  boardsync reconcile --event ./event.json --dry-run --format json
  boardsync reconcile --config ./boardsync.yaml --journal ./runs.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EventPath, "event", "", "path to the webhook payload (default $GITHUB_EVENT_PATH)")
	cmd.Flags().StringVar(&opts.DeliveryID, "delivery-id", "", "webhook delivery id, recorded in the journal")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute writes without sending them")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "run journal path (overrides config)")
	cmd.Flags().DurationVar(&opts.LockTimeout, "lock-timeout", time.Minute, "how long to wait for the lock file")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)
	b := opts.backends()
	formatter := opts.formatter(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return reportCommandError(formatter, ErrCodeConfig, err)
	}

	path := opts.EventPath
	if path == "" {
		path = b.Getenv("GITHUB_EVENT_PATH")
	}
	if path == "" {
		return reportCommandError(formatter, ErrCodeEvent,
			NewExitError(ExitCommandError, "no event payload: set --event or GITHUB_EVENT_PATH"))
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return reportCommandError(formatter, ErrCodeEvent, WrapExitError(ExitCommandError, "failed to read event", err))
	}
	ev, err := event.FromPayload(payload)
	if err != nil {
		return reportCommandError(formatter, ErrCodeEvent, WrapExitError(ExitCommandError, "failed to decode event", err))
	}
	ev.DeliveryID = opts.DeliveryID

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.LockFile != "" {
		unlock, err := acquireLock(ctx, cfg.LockFile, opts.LockTimeout)
		if err != nil {
			return reportCommandError(formatter, ErrCodeLock, err)
		}
		defer unlock()
	}

	store, err := b.Store(cfg)
	if err != nil {
		return reportCommandError(formatter, ErrCodeConfig, WrapExitError(ExitCommandError, "failed to create work item client", err))
	}
	var dry *remote.DryRun
	if opts.DryRun {
		dry = remote.NewDryRun(store)
		store = dry
	}

	eng, err := buildEngine(b, cfg, store, !opts.DryRun)
	if err != nil {
		return reportCommandError(formatter, ErrCodeConfig, WrapExitError(ExitCommandError, "failed to build engine", err))
	}

	res, rerr := eng.Reconcile(ctx, ev)
	out := newReconcileOutput(res, dry)

	var runID string
	if journalPath := journalPath(opts.Journal, cfg); journalPath != "" && !opts.DryRun {
		run, err := recordRun(ctx, b, journalPath, ev, payload, res, rerr)
		if err != nil {
			// The remote side already changed; the run is still reported.
			slog.Error("failed to record run", "journal", journalPath, "error", err)
		} else {
			runID = run.ID
			slog.Debug("run recorded", "run_id", run.ID, "seq", run.Seq)
		}
	}

	if !opts.DryRun && res.RecordID > 0 {
		if err := writeActionOutput(b.Getenv("GITHUB_OUTPUT"), res.RecordID); err != nil {
			slog.Error("failed to write step output", "error", err)
		}
	}

	if err := printReconcile(formatter, out, runID, rerr); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	if rerr != nil {
		return WrapExitError(ExitFailure, "reconciliation failed", rerr)
	}
	return nil
}

func newReconcileOutput(res reconcile.Result, dry *remote.DryRun) ReconcileOutput {
	out := ReconcileOutput{
		Action:   string(res.Action),
		RecordID: res.RecordID,
		Approver: res.Approver,
		Reason:   res.Reason,
	}
	if dry != nil {
		out.DryRun = true
		for _, w := range dry.Writes() {
			out.Writes = append(out.Writes, WriteOutput{Method: w.Method, ID: w.ID, Patch: w.Patch})
		}
	}
	return out
}

func journalPath(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Journal
}

// acquireLock waits up to timeout for an exclusive lock on path.
func acquireLock(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	lock := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, 250*time.Millisecond)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to acquire lock "+path, err)
	}
	if !locked {
		return nil, NewExitError(ExitCommandError, "another invocation holds "+path)
	}
	slog.Debug("lock acquired", "path", path)
	return func() { _ = lock.Unlock() }, nil
}

// recordRun appends the invocation to the journal.
func recordRun(ctx context.Context, b *Backends, path string, ev event.Event, payload []byte, res reconcile.Result, rerr error) (journal.Run, error) {
	j, err := journal.Open(path, b.JournalOptions...)
	if err != nil {
		return journal.Run{}, err
	}
	defer j.Close()

	run := journal.Run{
		DeliveryID:  ev.DeliveryID,
		Kind:        ev.Kind.String(),
		Repo:        ev.Repo.FullName,
		IssueNumber: ev.Issue.Number,
		Payload:     payload,
		Patch:       res.Patch,
		Action:      string(res.Action),
		RecordID:    res.RecordID,
		Reason:      res.Reason,
	}
	if rerr != nil {
		run.ErrorCode = string(reconcile.CodeOf(rerr))
		run.Error = rerr.Error()
	}
	return j.Record(ctx, run)
}

// writeActionOutput appends id=<n> to the step output file when one is
// configured.
func writeActionOutput(path string, id int) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "id=%d\n", id); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func printReconcile(f *OutputFormatter, out ReconcileOutput, runID string, rerr error) error {
	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: out, RunID: runID}
		if rerr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: failureCode(rerr), Message: rerr.Error()}
		}
		return f.Response(resp)
	}

	// Text mode prints the record id alone so it can be captured; a dry run
	// adds one line per write.
	if out.RecordID != 0 {
		fmt.Fprintln(f.Writer, out.RecordID)
	}
	f.VerboseLog("action=%s reason=%q run_id=%s", out.Action, out.Reason, runID)
	for _, w := range out.Writes {
		fmt.Fprintf(f.Writer, "%s %d %s\n", w.Method, w.ID, w.Patch.JSON())
	}
	return nil
}
