package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/boardsync/internal/event"
	"github.com/roach88/boardsync/internal/reconcile"
	"github.com/roach88/boardsync/internal/remote"
	"github.com/roach88/boardsync/internal/testutil"
	"github.com/roach88/boardsync/internal/xref"
)

// Harness holds the fakes one scenario runs against.
type Harness struct {
	store   *testutil.MemoryStore
	tracker *testutil.MemoryTracker
	engine  *reconcile.Engine
	logger  *slog.Logger
}

// identityTable is a reconcile.IdentityResolver over a fixed map.
type identityTable map[string]string

func (t identityTable) Resolve(ctx context.Context, login string) (string, bool, error) {
	id, ok := t[login]
	return id, ok, nil
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh fakes. Execution flow:
//  1. Seed records, annotations and issue bodies
//  2. Feed each payload through the engine, capturing the writes it made
//  3. Check per-delivery expectations
//  4. Evaluate assertions over the final state
//
// A returned error means the scenario itself could not run (for example a
// payload the decoder rejects); failed expectations are reported on the
// result instead.
func Run(scenario *Scenario) (*Result, error) {
	h := newHarness(scenario)
	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Events {
		te, err := h.deliver(ctx, int64(i+1), step)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		result.Trace = append(result.Trace, te)

		if step.Expect != nil {
			for _, msg := range checkExpect(te, step.Expect) {
				result.AddError(fmt.Sprintf("events[%d]: %s", i, msg))
			}
		}
	}

	for i, a := range scenario.Assertions {
		if err := h.evaluate(a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return result, nil
}

func newHarness(s *Scenario) *Harness {
	st := testutil.NewMemoryStore()
	for _, r := range s.Records {
		fields := make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		st.Seed(&remote.WorkItem{ID: r.ID, Rev: 1, Fields: fields})
	}
	for _, a := range s.Annotations {
		st.AddComment(a.Record, a.Author, a.Text)
	}

	tracker := testutil.NewMemoryTracker()
	for _, is := range s.Issues {
		tracker.Put(issueRef(is.Repo, is.Number), is.Body)
	}

	var opts []reconcile.Option
	if s.Options.CrossReference {
		opts = append(opts, reconcile.WithTracker(tracker))
	}
	if len(s.Identities) > 0 {
		opts = append(opts, reconcile.WithResolver(identityTable(s.Identities)))
	}

	eng := reconcile.New(st, reconcile.Options{
		Project:      s.Options.Project,
		WorkItemType: s.Options.WorkItemType,
		NewState:     s.Options.NewState,
		ClosedState:  s.Options.ClosedState,
		AreaPath:     s.Options.AreaPath,
		BypassRules:  s.Options.BypassRules,
	}, opts...)

	return &Harness{
		store:   st,
		tracker: tracker,
		engine:  eng,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// deliver runs one payload through the engine and returns its trace entry.
func (h *Harness) deliver(ctx context.Context, seq int64, step EventStep) (TraceEvent, error) {
	data, err := step.JSON()
	if err != nil {
		return TraceEvent{}, fmt.Errorf("encode payload: %w", err)
	}
	ev, err := event.FromPayload(data)
	if err != nil {
		return TraceEvent{}, err
	}

	for method, msg := range step.Fail {
		h.store.Fail[method] = errors.New(msg)
	}
	if step.FailLink != "" {
		h.tracker.FailUpdate = errors.New(step.FailLink)
	}
	defer func() {
		clear(h.store.Fail)
		h.tracker.FailUpdate = nil
	}()

	callsBefore := len(h.store.Calls())
	updatesBefore := len(h.tracker.Updates())

	// The engine logs through the default logger; keep scenario output quiet.
	prev := slog.Default()
	slog.SetDefault(h.logger)
	res, rerr := h.engine.Reconcile(ctx, ev)
	slog.SetDefault(prev)

	te := TraceEvent{
		Seq:       seq,
		Kind:      ev.Kind.String(),
		Issue:     ev.Issue.Number,
		Action:    string(res.Action),
		RecordID:  res.RecordID,
		Reason:    res.Reason,
		ErrorCode: string(reconcile.CodeOf(rerr)),
	}
	if rerr != nil && te.Action == "" {
		te.Action = "error"
	}

	for _, c := range h.store.Calls()[callsBefore:] {
		switch c.Method {
		case "Create":
			te.Writes = append(te.Writes, Write{Method: c.Method, Patch: c.Patch})
		case "Update":
			te.Writes = append(te.Writes, Write{Method: c.Method, ID: c.ID, Patch: c.Patch})
		}
	}
	for _, ref := range h.tracker.Updates()[updatesBefore:] {
		te.Links = append(te.Links, ref.String())
	}

	return te, nil
}

func checkExpect(te TraceEvent, want *Expect) []string {
	var errs []string
	if te.Action != want.Action {
		errs = append(errs, fmt.Sprintf("expected action %q, got %q", want.Action, te.Action))
	}
	if want.RecordID != nil && te.RecordID != *want.RecordID {
		errs = append(errs, fmt.Sprintf("expected record_id %d, got %d", *want.RecordID, te.RecordID))
	}
	if te.ErrorCode != want.ErrorCode {
		errs = append(errs, fmt.Sprintf("expected error_code %q, got %q", want.ErrorCode, te.ErrorCode))
	}
	if want.Reason != "" && te.Reason != want.Reason {
		errs = append(errs, fmt.Sprintf("expected reason %q, got %q", want.Reason, te.Reason))
	}
	return errs
}

// issueRef parses "owner/name" into a ref. validateScenario guarantees the
// separator is present.
func issueRef(repo string, number int) xref.IssueRef {
	owner, name, _ := strings.Cut(repo, "/")
	return xref.IssueRef{Owner: owner, Repo: name, Number: number}
}
