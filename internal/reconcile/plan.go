package reconcile

import (
	"github.com/roach88/boardsync/internal/event"
	"github.com/roach88/boardsync/internal/ledger"
	"github.com/roach88/boardsync/internal/locator"
	"github.com/roach88/boardsync/internal/patch"
	"github.com/roach88/boardsync/internal/remote"
)

// Input is everything Decide needs. It is assembled by the engine from
// fresh reads at the start of the invocation.
type Input struct {
	Event  event.Event
	Record *remote.WorkItem // nil when no work item exists for the issue
	Ledger *ledger.Ledger

	// Assignee is the remote identity resolved for Event.Assignee, or ""
	// when it could not be resolved.
	Assignee string

	Options Options
}

// Plan is the outcome of dispatch: what to send, and whether it creates.
type Plan struct {
	Create bool
	Patch  remote.Document

	// Approver is the ledger entry that authorized a create.
	Approver string

	// Reason explains an empty plan, for logs.
	Reason string
}

// Reasons reported for plans that send nothing.
const (
	ReasonNoRecord       = "no work item for issue"
	ReasonNotApproved    = "label not approved for creation"
	ReasonIssueNotOpen   = "issue is not open"
	ReasonNotImplemented = "action not implemented"
	ReasonUnhandled      = "unhandled action"
	ReasonNoChange       = "work item already up to date"
)

// Decide selects the action for in.Event and builds its patch. It performs
// no I/O.
func Decide(in Input) Plan {
	ev := in.Event
	rec := in.Record
	opts := in.Options
	title := patch.IssueTitle(ev.Issue.Title, ev.Issue.Number)

	if rec == nil && ev.Kind != event.KindLabeled && ev.Kind.Implemented() {
		return Plan{Reason: ReasonNoRecord}
	}

	var d remote.Document
	switch ev.Kind {
	case event.KindOpened:
		d = patch.TitleAndBody(d, rec, title, ev.Issue.Body)
		d = patch.State(d, rec, opts.NewState)
		if len(d) > 0 {
			d = patch.Comment(d, patch.IssueLink(ev)+" opened.")
		}

	case event.KindEdited:
		d = patch.TitleAndBody(d, rec, title, ev.Issue.Body)

	case event.KindCreated:
		d = patch.Comment(d, ev.Comment.Body)

	case event.KindClosed:
		d = patch.State(d, rec, opts.ClosedState)
		if len(d) > 0 {
			d = patch.Comment(d, patch.IssueLink(ev)+" closed.")
			d = patch.Comment(d, ev.Comment.Body)
		}

	case event.KindReopened:
		d = patch.TitleAndBody(d, rec, title, ev.Issue.Body)
		d = patch.State(d, rec, opts.NewState)
		if len(d) > 0 {
			d = patch.Comment(d, patch.IssueLink(ev)+" reopened.")
		}

	case event.KindAssigned:
		if in.Assignee != "" {
			d = patch.Assign(d, rec, in.Assignee, patch.UserLink(ev.Assignee))
		} else {
			d = patch.Unassign(d, rec)
		}

	case event.KindUnassigned:
		d = patch.Unassign(d, rec)

	case event.KindLabeled:
		if rec != nil {
			d = patch.AddLabel(d, rec, ev.Label)
			break
		}
		return planCreate(in, title)

	case event.KindUnlabeled:
		d = patch.RemoveLabel(d, rec, ev.Label)

	case event.KindDeleted, event.KindTransferred:
		return Plan{Reason: ReasonNotImplemented}

	case event.KindUnknown:
		return Plan{Reason: ReasonUnhandled}

	default:
		return Plan{Reason: ReasonUnhandled}
	}

	if len(d) == 0 {
		return Plan{Reason: ReasonNoChange}
	}
	return Plan{Patch: d}
}

// planCreate builds the creation patch for a labeled issue with no work
// item. Creation requires an approved label and an open issue.
func planCreate(in Input, title string) Plan {
	ev := in.Event
	opts := in.Options

	approver, ok := in.Ledger.Approver(ev.Label)
	if !ok {
		return Plan{Reason: ReasonNotApproved}
	}
	if !ev.Issue.IsOpen() {
		return Plan{Reason: ReasonIssueNotOpen}
	}

	d := patch.Create(title, ev.Issue.Body, locator.IssueTags(ev.Repo), opts.AreaPath)
	d = patch.Comment(d, patch.IssueLink(ev)+" created in "+patch.RepoLink(ev))
	d = patch.Hyperlink(d, ev.Issue.URL)
	d = patch.State(d, nil, opts.NewState)
	d = patch.Comment(d, "New issue: "+patch.IssueLink(ev))
	if in.Assignee != "" {
		d = patch.Assign(d, nil, in.Assignee, patch.UserLink(ev.Assignee))
	}

	return Plan{Create: true, Patch: d, Approver: approver}
}
