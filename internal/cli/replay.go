package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/boardsync/internal/event"
	"github.com/roach88/boardsync/internal/journal"
	"github.com/roach88/boardsync/internal/reconcile"
	"github.com/roach88/boardsync/internal/remote"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal     string
	Apply       bool
	LockTimeout time.Duration
}

// RunSummary is the outcome half of a journaled or replayed run.
type RunSummary struct {
	Action    string `json:"action,omitempty"`
	RecordID  int    `json:"record_id,omitempty"`
	PatchHash string `json:"patch_hash"`
	ErrorCode string `json:"error_code,omitempty"`
}

// ReplayResult compares a journaled run with its re-execution.
type ReplayResult struct {
	RunID    string        `json:"run_id"`
	Original RunSummary    `json:"original"`
	Replayed RunSummary    `json:"replayed"`
	Applied  bool          `json:"applied"`
	Matches  bool          `json:"matches"`
	Writes   []WriteOutput `json:"writes,omitempty"`

	// NewRunID is the journal id of an applied replay.
	NewRunID string `json:"new_run_id,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Re-run a journaled delivery",
		Long: `Re-run the payload of a journaled delivery against the current state.

By default the replay is a dry run: reads hit Azure DevOps, writes are only
reported. The replayed patch is compared with the one originally journaled;
a difference usually means the work item changed since. With --apply the
writes are sent and the replay is journaled as a new run.

Exit codes:
  0 - Replay completed
  1 - Replayed reconciliation failed
  2 - Command error (journal missing, unknown run id, bad config)

Examples:
  boardsync replay 0190c1a2-... --journal ./runs.db
  boardsync replay 0190c1a2-... --journal ./runs.db --apply`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "run journal path (overrides config)")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "send writes and journal the replay")
	cmd.Flags().DurationVar(&opts.LockTimeout, "lock-timeout", time.Minute, "how long --apply waits for the lock file")

	return cmd
}

func runReplay(opts *ReplayOptions, runID string, cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)
	b := opts.backends()
	formatter := opts.formatter(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return reportCommandError(formatter, ErrCodeConfig, err)
	}
	path := journalPath(opts.Journal, cfg)
	if path == "" {
		return reportCommandError(formatter, ErrCodeJournal,
			NewExitError(ExitCommandError, "no journal configured: set --journal or BOARDSYNC_JOURNAL"))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	original, err := readRun(ctx, b, path, runID)
	if err != nil {
		code := ErrCodeJournal
		if errors.Is(err, journal.ErrRunNotFound) {
			code = ErrCodeNotFound
		}
		return reportCommandError(formatter, code, WrapExitError(ExitCommandError, "failed to read run", err))
	}

	ev, err := event.FromPayload(original.Payload)
	if err != nil {
		return reportCommandError(formatter, ErrCodeEvent, WrapExitError(ExitCommandError, "journaled payload is unreadable", err))
	}
	ev.DeliveryID = original.DeliveryID

	// An applied replay writes like reconcile does, so it takes the same lock.
	if opts.Apply && cfg.LockFile != "" {
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
	if !opts.Apply {
		dry = remote.NewDryRun(store)
		store = dry
	}

	eng, err := buildEngine(b, cfg, store, opts.Apply)
	if err != nil {
		return reportCommandError(formatter, ErrCodeConfig, WrapExitError(ExitCommandError, "failed to build engine", err))
	}

	res, rerr := eng.Reconcile(ctx, ev)

	result := ReplayResult{
		RunID: original.ID,
		Original: RunSummary{
			Action:    original.Action,
			RecordID:  original.RecordID,
			PatchHash: original.PatchHash,
			ErrorCode: original.ErrorCode,
		},
		Replayed: RunSummary{
			Action:    string(res.Action),
			RecordID:  res.RecordID,
			ErrorCode: string(reconcile.CodeOf(rerr)),
		},
		Applied: opts.Apply,
	}
	if hash, err := res.Patch.Hash(); err == nil {
		result.Replayed.PatchHash = hash
	}
	result.Matches = result.Replayed.PatchHash == result.Original.PatchHash
	if dry != nil {
		result.Writes = newReconcileOutput(res, dry).Writes
	}

	if opts.Apply {
		run, err := recordRun(ctx, b, path, ev, original.Payload, res, rerr)
		if err != nil {
			return reportCommandError(formatter, ErrCodeJournal, WrapExitError(ExitFailure, "failed to record replay", err))
		}
		result.NewRunID = run.ID
	}

	if err := printReplay(formatter, result, rerr); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if rerr != nil {
		return WrapExitError(ExitFailure, "replayed reconciliation failed", rerr)
	}
	return nil
}

func readRun(ctx context.Context, b *Backends, path, id string) (journal.Run, error) {
	j, err := journal.Open(path, b.JournalOptions...)
	if err != nil {
		return journal.Run{}, err
	}
	defer j.Close()
	return j.Get(ctx, id)
}

func printReplay(f *OutputFormatter, result ReplayResult, rerr error) error {
	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: result, RunID: result.NewRunID}
		if rerr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: failureCode(rerr), Message: rerr.Error()}
		}
		return f.Response(resp)
	}

	w := f.Writer
	fmt.Fprintf(w, "Replay of run %s\n", result.RunID)
	fmt.Fprintf(w, "  original: %s record=%d patch=%s\n",
		orNone(result.Original.Action), result.Original.RecordID, shortHash(result.Original.PatchHash))
	fmt.Fprintf(w, "  replayed: %s record=%d patch=%s\n",
		orNone(result.Replayed.Action), result.Replayed.RecordID, shortHash(result.Replayed.PatchHash))
	if result.Matches {
		fmt.Fprintln(w, "✓ Patch matches the journaled run")
	} else {
		fmt.Fprintln(w, "✗ Patch differs from the journaled run")
	}
	for _, wr := range result.Writes {
		fmt.Fprintf(w, "  would %s %d %s\n", wr.Method, wr.ID, wr.Patch.JSON())
	}
	if result.NewRunID != "" {
		fmt.Fprintf(w, "Applied; recorded as run %s\n", result.NewRunID)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
