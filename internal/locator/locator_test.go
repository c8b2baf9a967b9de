package locator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardsync/internal/event"
	"github.com/roach88/boardsync/internal/remote"
	"github.com/roach88/boardsync/internal/testutil"
)

var repo = event.Repo{Owner: "octo", Name: "app", FullName: "octo/app"}

func item(id int, title, tags string) *remote.WorkItem {
	return &remote.WorkItem{ID: id, Fields: map[string]any{
		remote.FieldTitle: title,
		remote.FieldTags:  tags,
		remote.FieldState: "New",
	}}
}

func TestQueryWIQL(t *testing.T) {
	q := Query{Project: "Fabrikam", TitleContains: "(GitHub Issue #7)", Tags: []string{"GitHub Issue", "o'brien"}}

	assert.Equal(t,
		"SELECT [System.Id], [System.WorkItemType], [System.Description], [System.Title], [System.AssignedTo], [System.State], [System.Tags]"+
			" FROM workitems WHERE [System.TeamProject] = @project"+
			" AND [System.Title] CONTAINS '(GitHub Issue #7)'"+
			" AND [System.Tags] CONTAINS 'GitHub Issue'"+
			" AND [System.Tags] CONTAINS 'o''brien'",
		q.WIQL())
}

func TestLocateFound(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.Seed(item(5, "Crash (GitHub Issue #7)", "GitHub Issue; app"))
	store.Seed(item(6, "Crash (GitHub Issue #7)", "GitHub Issue; other-repo"))
	store.Seed(item(8, "Other (GitHub Issue #70)", "GitHub Issue; app"))

	l := New(store, "Fabrikam")
	got, err := l.FindIssue(context.Background(), repo, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, got.ID)

	gets := store.CallsTo("Get")
	require.Len(t, gets, 1)
	assert.Equal(t, 5, gets[0].ID)
	assert.Equal(t, "Fabrikam", store.CallsTo("Query")[0].Project)
}

func TestLocateNotFound(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.Seed(item(5, "Crash (GitHub Issue #8)", "GitHub Issue; app"))

	_, err := New(store, "Fabrikam").FindIssue(context.Background(), repo, 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, store.CallsTo("Get"))
}

func TestLocateConflict(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.Seed(item(5, "A (GitHub Issue #7)", "GitHub Issue; app"))
	store.Seed(item(6, "B (GitHub Issue #7)", "GitHub Issue; app"))

	_, err := New(store, "Fabrikam").FindIssue(context.Background(), repo, 7)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []int{5, 6}, conflict.IDs)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLocateQueryFailed(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.Fail["Query"] = errors.New("401 unauthorized")

	_, err := New(store, "Fabrikam").FindIssue(context.Background(), repo, 7)

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "query", lerr.Op)
	assert.NotErrorIs(t, err, ErrNotFound, "a failed query must not look like a miss")
	assert.False(t, IsConfigurationError(err))
}

func TestLocateUnknownProject(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.UnknownProject = true

	_, err := New(store, "Typo").FindControl(context.Background(), repo)
	assert.True(t, IsConfigurationError(err))
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLocateGetFailed(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.Seed(item(5, ControlTitle, "GitHub Issue; app"))
	store.Fail["Get"] = errors.New("timeout")

	_, err := New(store, "Fabrikam").FindControl(context.Background(), repo)

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "get", lerr.Op)
	assert.Equal(t, 5, lerr.ID)
	assert.Contains(t, err.Error(), "get work item 5")
}

func TestFindControlIgnoresIssues(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.Seed(item(5, "Crash (GitHub Issue #7)", "GitHub Issue; app"))
	store.Seed(item(9, ControlTitle, "GitHub Issue; app"))

	got, err := New(store, "Fabrikam").FindControl(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 9, got.ID)
}
