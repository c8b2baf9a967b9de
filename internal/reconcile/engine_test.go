package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardsync/internal/event"
	"github.com/roach88/boardsync/internal/locator"
	"github.com/roach88/boardsync/internal/patch"
	"github.com/roach88/boardsync/internal/remote"
	"github.com/roach88/boardsync/internal/testutil"
	"github.com/roach88/boardsync/internal/xref"
)

const controlID = 1

var issueRef = xref.IssueRef{Owner: "octo", Repo: "app", Number: 7}

// newStore returns a store holding an open control record for octo/app.
func newStore(t *testing.T) *testutil.MemoryStore {
	t.Helper()
	store := testutil.NewMemoryStore()
	store.Seed(&remote.WorkItem{ID: controlID, Fields: map[string]any{
		remote.FieldTitle: locator.ControlTitle,
		remote.FieldTags:  "GitHub Issue; app",
		remote.FieldState: "New",
	}})
	return store
}

func approve(store *testutil.MemoryStore, author, alias string, labels string) {
	store.AddComment(controlID, author, `{"gitHubAlias":"`+alias+`","labels":[`+labels+`]}`)
}

func labeled(label string) event.Event {
	ev := issueEvent(event.KindLabeled)
	ev.Label = label
	return ev
}

type stubResolver struct {
	ids   map[string]string
	err   error
	calls []string
}

func (r *stubResolver) Resolve(ctx context.Context, login string) (string, bool, error) {
	r.calls = append(r.calls, login)
	if r.err != nil {
		return "", false, r.err
	}
	id, ok := r.ids[login]
	return id, ok, nil
}

func TestReconcileLabeledCreatesAndLinksBack(t *testing.T) {
	store := newStore(t)
	approve(store, "alice", "alice-gh", `"bug"`)
	tracker := testutil.NewMemoryTracker()
	tracker.Put(issueRef, "steps...")

	e := New(store, Options{Project: "Fabrikam"}, WithTracker(tracker))
	res, err := e.Reconcile(context.Background(), labeled("bug"))
	require.NoError(t, err)

	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, "alice", res.Approver)
	require.NotZero(t, res.RecordID)

	creates := store.CallsTo("Create")
	require.Len(t, creates, 1)
	assert.Equal(t, "Issue", creates[0].Type)
	assert.Equal(t, "Fabrikam", creates[0].Project)

	item, ok := store.Item(res.RecordID)
	require.True(t, ok)
	title, _ := item.String(remote.FieldTitle)
	assert.Equal(t, "Crash on save (GitHub Issue #7)", title)
	tags, _ := item.Tags()
	assert.True(t, remote.HasTag(tags, "GitHub Issue"))
	assert.True(t, remote.HasTag(tags, "app"))
	state, _ := item.State()
	assert.Equal(t, "New", state)

	require.Len(t, tracker.Updates(), 1)
	assert.Equal(t, "steps...\r\n\r\nAzure DevOps Bot: "+xref.Token(res.RecordID), tracker.Body(issueRef))
}

func TestReconcileLabeledWithRecordNeverCreates(t *testing.T) {
	store := newStore(t)
	approve(store, "alice", "alice-gh", `"bug"`)
	store.Seed(existing("New"))

	res, err := New(store, Options{Project: "Fabrikam"}).Reconcile(context.Background(), labeled("bug"))
	require.NoError(t, err)

	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, 42, res.RecordID)
	assert.Empty(t, store.CallsTo("Create"))
	require.Len(t, store.CallsTo("Update"), 1)
}

func TestReconcileUnapprovedLabelMakesNoWrites(t *testing.T) {
	store := newStore(t)
	approve(store, "alice", "alice-gh", `"bug"`)

	res, err := New(store, Options{Project: "Fabrikam"}).Reconcile(context.Background(), labeled("feature"))
	require.NoError(t, err)

	assert.Equal(t, ActionIgnored, res.Action)
	assert.Equal(t, ReasonNotApproved, res.Reason)
	assert.Zero(t, res.RecordID)
	assert.Empty(t, store.CallsTo("Create"))
	assert.Empty(t, store.CallsTo("Update"))
}

func TestReconcileClosedSendsTwoOperations(t *testing.T) {
	store := newStore(t)
	store.Seed(existing("New"))
	ev := issueEvent(event.KindClosed)
	ev.Comment.Body = "fixed in #9"

	res, err := New(store, Options{Project: "Fabrikam"}).Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, res.Action)

	updates := store.CallsTo("Update")
	require.Len(t, updates, 1)
	assert.Equal(t, 42, updates[0].ID)
	require.Len(t, updates[0].Patch, 2)
	assert.Equal(t, "Closed", updates[0].Patch[0].Value)
	assert.Equal(t, patch.IssueLink(ev)+" closed."+patch.CommentSeparator+"fixed in #9", updates[0].Patch[1].Value)
}

func TestReconcileEmptyPatchSkipsUpdate(t *testing.T) {
	store := newStore(t)
	store.Seed(existing("Closed"))

	res, err := New(store, Options{Project: "Fabrikam"}).Reconcile(context.Background(), issueEvent(event.KindClosed))
	require.NoError(t, err)

	assert.Equal(t, ActionUnchanged, res.Action)
	assert.Equal(t, 42, res.RecordID)
	assert.Empty(t, store.CallsTo("Update"))
}

func TestReconcileSecondDeliveryIsNoop(t *testing.T) {
	store := newStore(t)
	store.Seed(existing("Closed"))
	ev := issueEvent(event.KindReopened)
	e := New(store, Options{Project: "Fabrikam"})

	res, err := e.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, res.Action)

	res, err = e.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, res.Action)
	assert.Len(t, store.CallsTo("Update"), 1)
}

func TestReconcileDisabledByControlRecord(t *testing.T) {
	store := newStore(t)
	ctl, _ := store.Item(controlID)
	ctl.Fields[remote.FieldState] = "Closed"
	store.Seed(existing("New"))

	res, err := New(store, Options{Project: "Fabrikam"}).Reconcile(context.Background(), issueEvent(event.KindClosed))
	require.NoError(t, err)

	assert.Equal(t, ActionDisabled, res.Action)
	assert.Empty(t, store.CallsTo("Update"))
	assert.Empty(t, store.CallsTo("Comments"))
}

func TestReconcileCreatesControlRecordLazily(t *testing.T) {
	store := testutil.NewMemoryStore()

	res, err := New(store, Options{Project: "Fabrikam", AreaPath: `Fabrikam\Team`}).Reconcile(context.Background(), labeled("bug"))
	require.NoError(t, err)

	// The new control record has no approvals, so nothing else is created.
	assert.Equal(t, ActionIgnored, res.Action)
	creates := store.CallsTo("Create")
	require.Len(t, creates, 1)
	title, _ := creates[0].Patch.Field(remote.FieldTitle)
	assert.Equal(t, locator.ControlTitle, title)
	tags, _ := creates[0].Patch.Field(remote.FieldTags)
	assert.Equal(t, "GitHub Issue; app; ", tags)
	state, _ := creates[0].Patch.Field(remote.FieldState)
	assert.Equal(t, "New", state)

	// A second invocation finds it instead of creating another.
	_, err = New(store, Options{Project: "Fabrikam"}).Reconcile(context.Background(), labeled("bug"))
	require.NoError(t, err)
	assert.Len(t, store.CallsTo("Create"), 1)
}

func TestReconcileQueryFailureIsFatal(t *testing.T) {
	store := newStore(t)
	store.Fail["Query"] = errors.New("503 service unavailable")

	_, err := New(store, Options{Project: "Fabrikam"}).Reconcile(context.Background(), issueEvent(event.KindClosed))
	require.Error(t, err)
	assert.Equal(t, ErrCodeTransport, CodeOf(err))
	assert.Empty(t, store.CallsTo("Create"))
}

func TestReconcileUnknownProject(t *testing.T) {
	store := newStore(t)
	store.UnknownProject = true

	_, err := New(store, Options{Project: "Nope"}).Reconcile(context.Background(), labeled("bug"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeConfiguration, CodeOf(err))
	assert.ErrorIs(t, err, locator.ErrProjectNotFound)
	assert.Empty(t, store.CallsTo("Create"))
}

func TestReconcileDuplicateRecordsConflict(t *testing.T) {
	store := newStore(t)
	store.Seed(existing("New"))
	dup := existing("New")
	dup.ID = 43
	store.Seed(dup)

	_, err := New(store, Options{Project: "Fabrikam"}).Reconcile(context.Background(), issueEvent(event.KindClosed))
	require.Error(t, err)
	assert.Equal(t, ErrCodeConflict, CodeOf(err))
	assert.Empty(t, store.CallsTo("Update"))
}

func TestReconcileUpdateFailureCarriesPatch(t *testing.T) {
	store := newStore(t)
	store.Seed(existing("New"))
	store.Fail["Update"] = errors.New("400 bad request")

	_, err := New(store, Options{Project: "Fabrikam"}).Reconcile(context.Background(), issueEvent(event.KindClosed))

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeTransport, re.Code)
	assert.Equal(t, "update", re.Op)
	assert.Equal(t, 42, re.RecordID)
	assert.Len(t, re.Patch, 2)
}

func TestReconcileCreateFailure(t *testing.T) {
	store := newStore(t)
	approve(store, "alice", "alice-gh", `"bug"`)
	store.Fail["Create"] = errors.New("400 TF401320")
	tracker := testutil.NewMemoryTracker()
	tracker.Put(issueRef, "")

	_, err := New(store, Options{Project: "Fabrikam"}, WithTracker(tracker)).Reconcile(context.Background(), labeled("bug"))

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "create", re.Op)
	assert.True(t, re.Patch.Index(remote.PathRelations) >= 0)
	assert.Empty(t, tracker.Updates())
}

func TestReconcileCrossReferenceFailureKeepsRecordID(t *testing.T) {
	store := newStore(t)
	approve(store, "alice", "alice-gh", `"bug"`)
	tracker := testutil.NewMemoryTracker()
	tracker.Put(issueRef, "steps...")
	tracker.FailUpdate = errors.New("403 resource not accessible")

	res, err := New(store, Options{Project: "Fabrikam"}, WithTracker(tracker)).Reconcile(context.Background(), labeled("bug"))

	require.Error(t, err)
	assert.Equal(t, ErrCodeCrossReference, CodeOf(err))
	assert.Equal(t, ActionCreated, res.Action)
	assert.NotZero(t, res.RecordID)
	assert.Len(t, store.CallsTo("Create"), 1)
}

func TestReconcileCrossReferenceAlreadyPresent(t *testing.T) {
	store := newStore(t)
	approve(store, "alice", "alice-gh", `"bug"`)
	tracker := testutil.NewMemoryTracker()
	// Created ids continue after the seeded control record.
	tracker.Put(issueRef, "see AB#2")

	res, err := New(store, Options{Project: "Fabrikam"}, WithTracker(tracker)).Reconcile(context.Background(), labeled("bug"))
	require.NoError(t, err)
	require.Equal(t, 2, res.RecordID)
	assert.Empty(t, tracker.Updates())
}

func TestReconcileAssignedUsesLedgerIdentity(t *testing.T) {
	store := newStore(t)
	approve(store, "bob@x.com", "bob-gh", "")
	store.Seed(existing("New"))
	resolver := &stubResolver{}
	ev := issueEvent(event.KindAssigned)
	ev.Assignee = "bob-gh"

	_, err := New(store, Options{Project: "Fabrikam"}, WithResolver(resolver)).Reconcile(context.Background(), ev)
	require.NoError(t, err)

	assert.Empty(t, resolver.calls)
	updates := store.CallsTo("Update")
	require.Len(t, updates, 1)
	assignee, _ := updates[0].Patch.Field(remote.FieldAssignedTo)
	assert.Equal(t, "bob@x.com", assignee)
}

func TestReconcileAssignedFallsBackToResolver(t *testing.T) {
	store := newStore(t)
	store.Seed(existing("New"))
	resolver := &stubResolver{ids: map[string]string{"carol-gh": "carol@x.com"}}
	ev := issueEvent(event.KindAssigned)
	ev.Assignee = "carol-gh"

	_, err := New(store, Options{Project: "Fabrikam"}, WithResolver(resolver)).Reconcile(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, []string{"carol-gh"}, resolver.calls)
	assignee, _ := store.CallsTo("Update")[0].Patch.Field(remote.FieldAssignedTo)
	assert.Equal(t, "carol@x.com", assignee)
}

func TestReconcileResolverFailureIsFatal(t *testing.T) {
	store := newStore(t)
	store.Seed(existing("New"))
	resolver := &stubResolver{err: errors.New("connection refused")}
	ev := issueEvent(event.KindAssigned)
	ev.Assignee = "carol-gh"

	_, err := New(store, Options{Project: "Fabrikam"}, WithResolver(resolver)).Reconcile(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, ErrCodeTransport, CodeOf(err))
	assert.Empty(t, store.CallsTo("Update"))
}

func TestReconcileUngatedLabelSkipsResolver(t *testing.T) {
	tests := []struct {
		name   string
		label  string
		state  string
		reason string
	}{
		{"unapproved label", "feature", event.StateOpen, ReasonNotApproved},
		{"closed issue", "bug", event.StateClosed, ReasonIssueNotOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			approve(store, "alice", "alice-gh", `"bug"`)
			resolver := &stubResolver{err: errors.New("connection refused")}
			ev := labeled(tt.label)
			ev.Issue.State = tt.state
			ev.Assignee = "carol-gh"

			res, err := New(store, Options{Project: "Fabrikam"}, WithResolver(resolver)).Reconcile(context.Background(), ev)
			require.NoError(t, err)

			assert.Equal(t, ActionIgnored, res.Action)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, resolver.calls)
			assert.Empty(t, store.CallsTo("Create"))
		})
	}
}

func TestReconcileApprovedLabelResolvesAssignee(t *testing.T) {
	store := newStore(t)
	approve(store, "alice", "alice-gh", `"bug"`)
	resolver := &stubResolver{ids: map[string]string{"carol-gh": "carol@x.com"}}
	ev := labeled("bug")
	ev.Assignee = "carol-gh"

	res, err := New(store, Options{Project: "Fabrikam"}, WithResolver(resolver)).Reconcile(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, []string{"carol-gh"}, resolver.calls)
	assignee, _ := store.CallsTo("Create")[0].Patch.Field(remote.FieldAssignedTo)
	assert.Equal(t, "carol@x.com", assignee)
}

func TestReconcileBypassRulesPropagates(t *testing.T) {
	store := newStore(t)
	store.Seed(existing("New"))

	_, err := New(store, Options{Project: "Fabrikam", BypassRules: true}).Reconcile(context.Background(), issueEvent(event.KindClosed))
	require.NoError(t, err)
	assert.True(t, store.CallsTo("Update")[0].Bypass)
}

func TestOptionsDefaults(t *testing.T) {
	e := New(testutil.NewMemoryStore(), Options{Project: "Fabrikam", ClosedState: "Done"})
	opts := e.Options()
	assert.Equal(t, "Issue", opts.WorkItemType)
	assert.Equal(t, "New", opts.NewState)
	assert.Equal(t, "Done", opts.ClosedState)
}
