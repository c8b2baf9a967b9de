package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardsync/internal/event"
	"github.com/roach88/boardsync/internal/ledger"
	"github.com/roach88/boardsync/internal/patch"
	"github.com/roach88/boardsync/internal/remote"
)

var testOpts = Options{Project: "Fabrikam"}.withDefaults()

func issueEvent(kind event.Kind) event.Event {
	return event.Event{
		Kind:   kind,
		Action: kind.String(),
		Issue: event.Issue{
			Number: 7,
			Title:  "Crash on save",
			Body:   "steps...",
			State:  event.StateOpen,
			URL:    "https://github.com/octo/app/issues/7",
		},
		Repo: event.Repo{Owner: "octo", Name: "app", FullName: "octo/app", URL: "https://github.com/octo/app"},
	}
}

func existing(state string) *remote.WorkItem {
	return &remote.WorkItem{ID: 42, Fields: map[string]any{
		remote.FieldTitle:       "Crash on save (GitHub Issue #7)",
		remote.FieldDescription: "steps...",
		remote.FieldState:       state,
		remote.FieldTags:        "GitHub Issue; app",
	}}
}

func approvals(label, approver string) *ledger.Ledger {
	return ledger.Build([]ledger.Annotation{
		{Author: approver, Text: `{"gitHubAlias":"` + approver + `-gh","labels":["` + label + `"]}`},
	})
}

func paths(d remote.Document) []string {
	out := make([]string, len(d))
	for i, op := range d {
		out[i] = op.Path
	}
	return out
}

func TestDecideRequiresRecord(t *testing.T) {
	for _, kind := range []event.Kind{
		event.KindOpened, event.KindEdited, event.KindCreated, event.KindClosed,
		event.KindReopened, event.KindAssigned, event.KindUnassigned, event.KindUnlabeled,
	} {
		t.Run(kind.String(), func(t *testing.T) {
			plan := Decide(Input{Event: issueEvent(kind), Options: testOpts})
			assert.False(t, plan.Create)
			assert.Empty(t, plan.Patch)
			assert.Equal(t, ReasonNoRecord, plan.Reason)
		})
	}
}

func TestDecideUnimplementedKinds(t *testing.T) {
	for kind, reason := range map[event.Kind]string{
		event.KindDeleted:     ReasonNotImplemented,
		event.KindTransferred: ReasonNotImplemented,
		event.KindUnknown:     ReasonUnhandled,
	} {
		plan := Decide(Input{Event: issueEvent(kind), Record: existing("New"), Options: testOpts})
		assert.Empty(t, plan.Patch, kind.String())
		assert.Equal(t, reason, plan.Reason, kind.String())
	}
}

func TestDecideClosed(t *testing.T) {
	ev := issueEvent(event.KindClosed)
	ev.Comment.Body = "fixed in #9"

	plan := Decide(Input{Event: ev, Record: existing("New"), Options: testOpts})

	require.Len(t, plan.Patch, 2)
	assert.Equal(t, remote.FieldPath(remote.FieldState), plan.Patch[0].Path)
	assert.Equal(t, "Closed", plan.Patch[0].Value)
	assert.Equal(t, remote.FieldPath(remote.FieldHistory), plan.Patch[1].Path)
	assert.Equal(t, patch.IssueLink(ev)+" closed."+patch.CommentSeparator+"fixed in #9", plan.Patch[1].Value)
}

func TestDecideClosedAlreadyClosed(t *testing.T) {
	plan := Decide(Input{Event: issueEvent(event.KindClosed), Record: existing("Closed"), Options: testOpts})
	assert.Empty(t, plan.Patch)
	assert.Equal(t, ReasonNoChange, plan.Reason)
}

func TestDecideReopened(t *testing.T) {
	ev := issueEvent(event.KindReopened)
	ev.Issue.Title = "Crash on save as"

	plan := Decide(Input{Event: ev, Record: existing("Closed"), Options: testOpts})

	assert.Equal(t, []string{
		remote.FieldPath(remote.FieldTitle),
		remote.FieldPath(remote.FieldState),
		remote.FieldPath(remote.FieldHistory),
	}, paths(plan.Patch))
	assert.Equal(t, "Crash on save as (GitHub Issue #7)", plan.Patch[0].Value)
	assert.Equal(t, "New", plan.Patch[1].Value)
	assert.Equal(t, patch.IssueLink(ev)+" reopened.", plan.Patch[2].Value)
}

func TestDecideOpenedUnchangedSendsNothing(t *testing.T) {
	plan := Decide(Input{Event: issueEvent(event.KindOpened), Record: existing("New"), Options: testOpts})
	assert.Empty(t, plan.Patch)
	assert.Equal(t, ReasonNoChange, plan.Reason)
}

func TestDecideEditedHasNoComment(t *testing.T) {
	ev := issueEvent(event.KindEdited)
	ev.Issue.Body = "more steps"

	plan := Decide(Input{Event: ev, Record: existing("New"), Options: testOpts})

	require.Len(t, plan.Patch, 1)
	assert.Equal(t, remote.FieldPath(remote.FieldDescription), plan.Patch[0].Path)
	assert.Equal(t, "more steps", plan.Patch[0].Value)
}

func TestDecideCreatedComment(t *testing.T) {
	ev := issueEvent(event.KindCreated)
	ev.Comment.Body = "me too"

	plan := Decide(Input{Event: ev, Record: existing("New"), Options: testOpts})
	assert.True(t, patch.OnlyHistory(plan.Patch))
	assert.Equal(t, "me too", plan.Patch[0].Value)
}

func TestDecideAssigned(t *testing.T) {
	ev := issueEvent(event.KindAssigned)
	ev.Assignee = "alice-gh"

	plan := Decide(Input{Event: ev, Record: existing("New"), Assignee: "alice@x.com", Options: testOpts})

	require.Len(t, plan.Patch, 2)
	assert.Equal(t, "alice@x.com", plan.Patch[0].Value)
	assert.Equal(t, patch.UserLink("alice-gh"), plan.Patch[1].Value)
}

func TestDecideAssignedUnresolvedUnassigns(t *testing.T) {
	ev := issueEvent(event.KindAssigned)
	ev.Assignee = "stranger"
	rec := existing("New")
	rec.Fields[remote.FieldAssignedTo] = "bob@x.com"

	plan := Decide(Input{Event: ev, Record: rec, Options: testOpts})

	require.Len(t, plan.Patch, 2)
	assert.Equal(t, "", plan.Patch[0].Value)
	assert.Equal(t, patch.UnassignedNote, plan.Patch[1].Value)
}

func TestDecideUnassignedWithoutAssignee(t *testing.T) {
	plan := Decide(Input{Event: issueEvent(event.KindUnassigned), Record: existing("New"), Options: testOpts})
	assert.Empty(t, plan.Patch)
}

func TestDecideLabelsOnExistingRecord(t *testing.T) {
	ev := issueEvent(event.KindLabeled)
	ev.Label = "bug"

	plan := Decide(Input{Event: ev, Record: existing("New"), Ledger: approvals("bug", "alice"), Options: testOpts})
	assert.False(t, plan.Create)
	require.Len(t, plan.Patch, 1)
	assert.Equal(t, "GitHub Issue; app; bug", plan.Patch[0].Value)

	ev = issueEvent(event.KindUnlabeled)
	ev.Label = "app"
	plan = Decide(Input{Event: ev, Record: existing("New"), Options: testOpts})
	require.Len(t, plan.Patch, 1)
	assert.Equal(t, "GitHub Issue", plan.Patch[0].Value)
}

func TestDecideCreateGating(t *testing.T) {
	ev := issueEvent(event.KindLabeled)
	ev.Label = "feature"

	plan := Decide(Input{Event: ev, Ledger: approvals("bug", "alice"), Options: testOpts})
	assert.False(t, plan.Create)
	assert.Equal(t, ReasonNotApproved, plan.Reason)

	plan = Decide(Input{Event: ev, Options: testOpts})
	assert.False(t, plan.Create)
	assert.Equal(t, ReasonNotApproved, plan.Reason)

	ev.Label = "bug"
	ev.Issue.State = event.StateClosed
	plan = Decide(Input{Event: ev, Ledger: approvals("bug", "alice"), Options: testOpts})
	assert.False(t, plan.Create)
	assert.Equal(t, ReasonIssueNotOpen, plan.Reason)
}

func TestDecideCreate(t *testing.T) {
	ev := issueEvent(event.KindLabeled)
	ev.Label = "bug"
	ev.Assignee = "bob-gh"
	opts := testOpts
	opts.AreaPath = `Fabrikam\Team`

	plan := Decide(Input{Event: ev, Ledger: approvals("bug", "alice"), Assignee: "bob@x.com", Options: opts})

	require.True(t, plan.Create)
	assert.Equal(t, "alice", plan.Approver)

	title, _ := plan.Patch.Field(remote.FieldTitle)
	assert.Equal(t, "Crash on save (GitHub Issue #7)", title)
	tags, _ := plan.Patch.Field(remote.FieldTags)
	assert.Equal(t, "GitHub Issue; app; ", tags)
	area, _ := plan.Patch.Field(remote.FieldAreaPath)
	assert.Equal(t, `Fabrikam\Team`, area)
	state, _ := plan.Patch.Field(remote.FieldState)
	assert.Equal(t, "New", state)
	assignee, _ := plan.Patch.Field(remote.FieldAssignedTo)
	assert.Equal(t, "bob@x.com", assignee)

	history, _ := plan.Patch.Field(remote.FieldHistory)
	assert.Equal(t,
		patch.IssueLink(ev)+" created in "+patch.RepoLink(ev)+
			patch.CommentSeparator+"New issue: "+patch.IssueLink(ev)+
			patch.CommentSeparator+patch.UserLink("bob-gh"),
		history)

	i := plan.Patch.Index(remote.PathRelations)
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, remote.Relation{Rel: remote.RelHyperlink, URL: ev.Issue.URL}, plan.Patch[i].Value)
}

// Applying a plan and deciding again against the result yields nothing.
func TestDecideIdempotentAfterApply(t *testing.T) {
	for _, kind := range []event.Kind{event.KindOpened, event.KindEdited, event.KindClosed, event.KindReopened, event.KindUnlabeled} {
		t.Run(kind.String(), func(t *testing.T) {
			ev := issueEvent(kind)
			ev.Issue.Title = "Renamed"
			ev.Issue.Body = "new body"
			ev.Label = "app"
			rec := existing("Closed")
			if kind == event.KindClosed || kind == event.KindUnlabeled {
				rec = existing("New")
			}

			first := Decide(Input{Event: ev, Record: rec, Options: testOpts})
			require.NotEmpty(t, first.Patch)

			second := Decide(Input{Event: ev, Record: first.Patch.ApplyTo(rec), Options: testOpts})
			assert.Empty(t, second.Patch)
		})
	}
}
