package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/boardsync/internal/config"
	"github.com/roach88/boardsync/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Journal string
	Repo    string
	Issue   int
	Failed  bool
	Limit   int
}

// HistoryEntry is one journaled run in history output.
type HistoryEntry struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	RecordedAt  string `json:"recorded_at"`
	DeliveryID  string `json:"delivery_id,omitempty"`
	Kind        string `json:"kind"`
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issue_number"`
	Action      string `json:"action,omitempty"`
	RecordID    int    `json:"record_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	PatchHash   string `json:"patch_hash"`
	ErrorCode   string `json:"error_code,omitempty"`
	Error       string `json:"error,omitempty"`
}

// HistoryResult holds the history output.
type HistoryResult struct {
	Runs   []HistoryEntry `json:"runs"`
	Total  int            `json:"total"`
	Failed int            `json:"failed"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled runs",
		Long: `List journaled invocations, oldest first.

Each line shows the delivery's kind and issue, what the engine did, and the
error code for failed runs. Use the run id with 'boardsync replay'.

Examples:
  boardsync history --journal ./runs.db
  boardsync history --journal ./runs.db --repo octo/app --issue 7
  boardsync history --journal ./runs.db --failed --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "run journal path (overrides config)")
	cmd.Flags().StringVar(&opts.Repo, "repo", "", "filter by repository (owner/name)")
	cmd.Flags().IntVar(&opts.Issue, "issue", 0, "filter by issue number")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only show failed runs")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent N runs")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)
	formatter := opts.formatter(cmd)

	// History only needs the journal path, so a partial config is fine.
	path := opts.Journal
	if path == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return reportCommandError(formatter, ErrCodeConfig, WrapExitError(ExitCommandError, "failed to load configuration", err))
		}
		path = cfg.Journal
	}
	if path == "" {
		return reportCommandError(formatter, ErrCodeJournal,
			NewExitError(ExitCommandError, "no journal configured: set --journal or BOARDSYNC_JOURNAL"))
	}
	if opts.Limit < 0 {
		return reportCommandError(formatter, ErrCodeJournal, NewExitError(ExitCommandError, "--limit must be non-negative"))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	j, err := journal.Open(path, opts.backends().JournalOptions...)
	if err != nil {
		return reportCommandError(formatter, ErrCodeJournal, WrapExitError(ExitCommandError, "failed to open journal", err))
	}
	defer j.Close()

	runs, err := j.List(ctx, journal.Filter{
		Repo:        opts.Repo,
		IssueNumber: opts.Issue,
		FailedOnly:  opts.Failed,
		Limit:       opts.Limit,
	})
	if err != nil {
		return reportCommandError(formatter, ErrCodeJournal, WrapExitError(ExitCommandError, "failed to list runs", err))
	}

	result := HistoryResult{Runs: make([]HistoryEntry, 0, len(runs)), Total: len(runs)}
	for _, r := range runs {
		if r.Failed() {
			result.Failed++
		}
		result.Runs = append(result.Runs, HistoryEntry{
			ID:          r.ID,
			Seq:         r.Seq,
			RecordedAt:  r.RecordedAt.UTC().Format(time.RFC3339),
			DeliveryID:  r.DeliveryID,
			Kind:        r.Kind,
			Repo:        r.Repo,
			IssueNumber: r.IssueNumber,
			Action:      r.Action,
			RecordID:    r.RecordID,
			Reason:      r.Reason,
			PatchHash:   r.PatchHash,
			ErrorCode:   r.ErrorCode,
			Error:       r.Error,
		})
	}

	if opts.Format == "json" {
		return formatter.Response(CLIResponse{Status: "ok", Data: result})
	}
	return outputHistoryText(formatter, result)
}

// outputHistoryText outputs one line per run.
func outputHistoryText(f *OutputFormatter, result HistoryResult) error {
	w := f.Writer
	if result.Total == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}

	for _, r := range result.Runs {
		mark := "✓"
		outcome := orNone(r.Action)
		if r.Error != "" {
			mark = "✗"
			outcome = r.ErrorCode
		}
		fmt.Fprintf(w, "%s [%d] %s %s %s#%d %s", mark, r.Seq, r.RecordedAt, r.Kind, r.Repo, r.IssueNumber, outcome)
		if r.RecordID != 0 {
			fmt.Fprintf(w, " record=%d", r.RecordID)
		}
		fmt.Fprintf(w, " run=%s\n", r.ID)
		if f.Verbose {
			if r.Reason != "" {
				fmt.Fprintf(w, "    reason: %s\n", r.Reason)
			}
			if r.Error != "" {
				fmt.Fprintf(w, "    error: %s\n", r.Error)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d run(s), %d failed\n", result.Total, result.Failed)
	return nil
}
