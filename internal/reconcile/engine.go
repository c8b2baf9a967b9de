package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/boardsync/internal/event"
	"github.com/roach88/boardsync/internal/ledger"
	"github.com/roach88/boardsync/internal/locator"
	"github.com/roach88/boardsync/internal/patch"
	"github.com/roach88/boardsync/internal/remote"
	"github.com/roach88/boardsync/internal/xref"
)

// Defaults for Options fields left empty.
const (
	DefaultWorkItemType = "Issue"
	DefaultClosedState  = "Closed"
	DefaultNewState     = "New"
)

// controlDescription is the description given to a lazily created
// sync-state control record.
const controlDescription = "This task controls the state of AzureDevOps to GitHub synchronization"

// Options configures the target project and state names.
type Options struct {
	Project      string
	WorkItemType string
	ClosedState  string
	NewState     string
	AreaPath     string
	BypassRules  bool
}

func (o Options) withDefaults() Options {
	if o.WorkItemType == "" {
		o.WorkItemType = DefaultWorkItemType
	}
	if o.ClosedState == "" {
		o.ClosedState = DefaultClosedState
	}
	if o.NewState == "" {
		o.NewState = DefaultNewState
	}
	return o
}

// IdentityResolver maps a GitHub login to a remote identity when the
// ledger has no mapping for it.
type IdentityResolver interface {
	Resolve(ctx context.Context, login string) (identity string, ok bool, err error)
}

// Action summarizes what an invocation did.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionIgnored   Action = "ignored"
	ActionDisabled  Action = "disabled"
)

// Result is the outcome of one invocation. It is returned alongside an
// error when progress was made before the failure (a created work item
// whose back-reference failed).
type Result struct {
	Action   Action
	RecordID int
	Patch    remote.Document
	Approver string
	Reason   string
}

// SyncStatus is the global switch read from the control record.
type SyncStatus struct {
	Enabled bool
	Control *remote.WorkItem
}

// Engine reconciles issue events with work items.
//
// An Engine holds no per-invocation state and may be reused; each
// Reconcile call re-reads everything it needs.
type Engine struct {
	store    remote.Store
	locator  *locator.Locator
	opts     Options
	tracker  xref.IssueTracker
	resolver IdentityResolver
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithTracker enables writing the AB#<id> back-reference after creation.
// Without a tracker the step is skipped.
func WithTracker(t xref.IssueTracker) Option {
	return func(e *Engine) {
		e.tracker = t
	}
}

// WithResolver sets a fallback identity resolver consulted when the ledger
// has no mapping for an assignee.
func WithResolver(r IdentityResolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// New creates an Engine over store.
func New(store remote.Store, opts Options, options ...Option) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		store:   store,
		locator: locator.New(store, opts.Project),
		opts:    opts,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Options returns the effective options, defaults applied.
func (e *Engine) Options() Options {
	return e.opts
}

// Reconcile processes one event.
func (e *Engine) Reconcile(ctx context.Context, ev event.Event) (Result, error) {
	log := slog.With("kind", ev.Kind.String(), "issue", ev.Issue.Number, "repo", ev.Repo.FullName)

	status, err := e.syncStatus(ctx, ev.Repo)
	if err != nil {
		return Result{}, err
	}
	if !status.Enabled {
		log.Info("sync disabled by control record", "control_id", status.Control.ID)
		return Result{Action: ActionDisabled, Reason: "control record closed"}, nil
	}

	rec, err := e.locator.FindIssue(ctx, ev.Repo, ev.Issue.Number)
	switch {
	case errors.Is(err, locator.ErrNotFound):
		rec = nil
	case err != nil:
		return Result{}, classify("locate", err)
	default:
		log = log.With("record_id", rec.ID)
	}

	l, err := e.buildLedger(ctx, status)
	if err != nil {
		return Result{}, err
	}

	in := Input{Event: ev, Record: rec, Ledger: l, Options: e.opts}
	if needsAssignee(ev, rec, l) {
		in.Assignee, err = e.resolveAssignee(ctx, ev.Assignee, l)
		if err != nil {
			return Result{}, err
		}
	}

	plan := Decide(in)
	res := Result{Patch: plan.Patch, Approver: plan.Approver, Reason: plan.Reason}
	if rec != nil {
		res.RecordID = rec.ID
	}

	if plan.Create {
		return e.create(ctx, ev, plan, log)
	}

	if rec == nil {
		log.Info("nothing to do", "reason", plan.Reason, "action", ev.Action)
		res.Action = ActionIgnored
		return res, nil
	}

	updated, err := e.update(ctx, plan.Patch, rec)
	if err != nil {
		return res, err
	}
	if updated == nil {
		log.Info("nothing to do", "reason", plan.Reason, "action", ev.Action)
		res.Action = ActionUnchanged
		return res, nil
	}

	log.Info("work item updated", "operations", len(plan.Patch), "rev", updated.Rev)
	res.Action = ActionUpdated
	return res, nil
}

// syncStatus locates the control record, creating it in the open state if
// it does not exist yet.
func (e *Engine) syncStatus(ctx context.Context, repo event.Repo) (SyncStatus, error) {
	control, err := e.locator.FindControl(ctx, repo)
	switch {
	case errors.Is(err, locator.ErrNotFound):
		doc := patch.Create(locator.ControlTitle, controlDescription, locator.IssueTags(repo), e.opts.AreaPath)
		doc = patch.State(doc, nil, e.opts.NewState)

		control, err = e.store.Create(ctx, doc, e.opts.Project, e.opts.WorkItemType, e.opts.BypassRules)
		if err != nil {
			logRemoteFailure("create control record", 0, doc, err)
			return SyncStatus{}, &Error{Code: ErrCodeTransport, Op: "status", Patch: doc, Err: err}
		}
		if control == nil {
			return SyncStatus{}, &Error{Code: ErrCodeConfiguration, Op: "status", Patch: doc,
				Err: fmt.Errorf("create returned no work item; check work item type %q", e.opts.WorkItemType)}
		}
		slog.Info("created sync-state control record", "control_id", control.ID, "repo", repo.FullName)
	case err != nil:
		return SyncStatus{}, classify("status", err)
	}

	state, _ := control.State()
	return SyncStatus{Enabled: state != e.opts.ClosedState, Control: control}, nil
}

func (e *Engine) buildLedger(ctx context.Context, status SyncStatus) (*ledger.Ledger, error) {
	comments, err := e.store.Comments(ctx, e.opts.Project, status.Control.ID)
	if err != nil {
		return nil, &Error{Code: ErrCodeTransport, Op: "ledger", RecordID: status.Control.ID, Err: err}
	}

	annotations := make([]ledger.Annotation, len(comments))
	for i, c := range comments {
		annotations[i] = ledger.Annotation{Author: c.CreatedBy.UniqueName, Text: c.Text}
	}

	l := ledger.Build(annotations)
	slog.Debug("permission ledger built", "annotations", len(annotations), "labels", l.Labels(), "identities", l.Identities())
	return l, nil
}

// needsAssignee reports whether dispatch will consult the assignee, so the
// resolver is only called when its answer matters. A labeled issue with no
// work item only uses it when creation is permitted.
func needsAssignee(ev event.Event, rec *remote.WorkItem, l *ledger.Ledger) bool {
	if ev.Assignee == "" {
		return false
	}
	switch ev.Kind {
	case event.KindAssigned:
		return rec != nil
	case event.KindLabeled:
		if rec != nil || !ev.Issue.IsOpen() {
			return false
		}
		_, approved := l.Approver(ev.Label)
		return approved
	default:
		return false
	}
}

func (e *Engine) resolveAssignee(ctx context.Context, login string, l *ledger.Ledger) (string, error) {
	if id, ok := l.Identity(login); ok {
		return id, nil
	}
	if e.resolver == nil {
		return "", nil
	}
	id, ok, err := e.resolver.Resolve(ctx, login)
	if err != nil {
		return "", &Error{Code: ErrCodeTransport, Op: "resolve", Err: fmt.Errorf("resolve %q: %w", login, err)}
	}
	if !ok {
		return "", nil
	}
	return id, nil
}

func (e *Engine) create(ctx context.Context, ev event.Event, plan Plan, log *slog.Logger) (Result, error) {
	res := Result{Patch: plan.Patch, Approver: plan.Approver}

	item, err := e.store.Create(ctx, plan.Patch, e.opts.Project, e.opts.WorkItemType, e.opts.BypassRules)
	if err != nil {
		logRemoteFailure("create work item", 0, plan.Patch, err)
		return res, &Error{Code: ErrCodeTransport, Op: "create", Patch: plan.Patch, Err: err}
	}
	if item == nil {
		return res, &Error{Code: ErrCodeConfiguration, Op: "create", Patch: plan.Patch,
			Err: fmt.Errorf("create returned no work item; check work item type %q", e.opts.WorkItemType)}
	}

	res.Action = ActionCreated
	res.RecordID = item.ID
	log.Info("work item created", "record_id", item.ID, "label", ev.Label, "approver", plan.Approver)

	if e.tracker == nil {
		return res, nil
	}
	ref := xref.IssueRef{Owner: ev.Repo.Owner, Repo: ev.Repo.Name, Number: ev.Issue.Number}
	if _, err := xref.LinkBack(ctx, e.tracker, ref, item.ID); err != nil {
		log.Error("work item created but cross-reference failed", "record_id", item.ID, "error", err)
		return res, &Error{Code: ErrCodeCrossReference, Op: "link", RecordID: item.ID, Err: err}
	}
	return res, nil
}

// update sends doc to rec. An empty doc never reaches the store; update
// then returns (nil, nil).
func (e *Engine) update(ctx context.Context, doc remote.Document, rec *remote.WorkItem) (*remote.WorkItem, error) {
	if doc.IsEmpty() || rec == nil {
		return nil, nil
	}

	updated, err := e.store.Update(ctx, doc, rec.ID, e.opts.Project, e.opts.BypassRules)
	if err != nil {
		logRemoteFailure("update work item", rec.ID, doc, err)
		return nil, &Error{Code: ErrCodeTransport, Op: "update", RecordID: rec.ID, Patch: doc, Err: err}
	}
	if updated == nil {
		updated = doc.ApplyTo(rec)
	}
	return updated, nil
}

// logRemoteFailure logs a failed write with the intended patch so the
// invocation can be diagnosed or replayed by hand.
func logRemoteFailure(op string, id int, doc remote.Document, err error) {
	slog.Error(op+" failed",
		"error", err,
		"record_id", id,
		"patch", doc.JSON(),
	)
}
