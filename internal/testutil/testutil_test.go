package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardsync/internal/remote"
	"github.com/roach88/boardsync/internal/xref"
)

func TestFixedRunIDGeneratorInOrder(t *testing.T) {
	gen := NewFixedRunIDGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestFixedRunIDGeneratorCounts(t *testing.T) {
	gen := NewFixedRunIDGenerator()
	assert.Equal(t, "test-run-0001", gen.Generate())
	assert.Equal(t, "test-run-0002", gen.Generate())
}

func TestFixedRunIDGeneratorThreadSafe(t *testing.T) {
	gen := NewFixedRunIDGenerator()
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, dup := seen.LoadOrStore(gen.Generate(), true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
}

func TestStepClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewStepClock(start, time.Minute)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Minute), c.Now())

	c.Reset(start)
	assert.Equal(t, start, c.Now())
}

func TestMemoryStoreQueryMatchesLocatorSemantics(t *testing.T) {
	s := NewMemoryStore()
	s.Seed(&remote.WorkItem{ID: 1, Fields: map[string]any{remote.FieldTitle: "A (GitHub Issue #7)", remote.FieldTags: "GitHub Issue; app"}})
	s.Seed(&remote.WorkItem{ID: 2, Fields: map[string]any{remote.FieldTitle: "B (GitHub Issue #7)", remote.FieldTags: "GitHub Issue; application"}})

	ids, err := s.Query(context.Background(),
		"SELECT [System.Id] FROM workitems WHERE [System.TeamProject] = @project"+
			" AND [System.Title] CONTAINS '(GitHub Issue #7)' AND [System.Tags] CONTAINS 'GitHub Issue' AND [System.Tags] CONTAINS 'app'",
		"P")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids)

	s.UnknownProject = true
	ids, err = s.Query(context.Background(), "x", "P")
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestMemoryStoreCreateUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	doc := remote.Document{{Op: remote.OpAdd, Path: remote.FieldPath(remote.FieldState), Value: "New"}}

	item, err := s.Create(ctx, doc, "P", "Issue", false)
	require.NoError(t, err)
	assert.Equal(t, 100, item.ID)

	// Returned snapshots are copies.
	item.Fields[remote.FieldState] = "mutated"
	stored, _ := s.Item(100)
	state, _ := stored.State()
	assert.Equal(t, "New", state)

	s.Fail["Update"] = errors.New("boom")
	_, err = s.Update(ctx, doc, 100, "P", false)
	assert.Error(t, err)
	assert.Len(t, s.CallsTo("Update"), 1)
}

func TestMemoryTracker(t *testing.T) {
	tr := NewMemoryTracker()
	ref := xref.IssueRef{Owner: "o", Repo: "r", Number: 1}
	tr.Put(ref, "body")

	_, err := tr.UpdateIssueBody(context.Background(), ref, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", tr.Body(ref))
	assert.Equal(t, []xref.IssueRef{ref}, tr.Updates())

	_, err = tr.GetIssue(context.Background(), xref.IssueRef{Owner: "o", Repo: "r", Number: 2})
	assert.Error(t, err)
}
