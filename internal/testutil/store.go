package testutil

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/boardsync/internal/remote"
)

// Call records one method invocation on MemoryStore.
type Call struct {
	Method  string
	ID      int
	Project string
	Type    string
	Bypass  bool
	WIQL    string
	Patch   remote.Document
}

// MemoryStore is an in-memory remote.Store for tests.
//
// Query understands the WIQL the locator renders: a title CONTAINS clause
// and any number of tag CONTAINS clauses. Records are matched with the
// same semantics the real store uses (substring on title, whole-token on
// tags).
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int
	items    map[int]*remote.WorkItem
	comments map[int][]remote.Comment
	calls    []Call

	// Fail maps a method name ("Query", "Get", "Create", "Update",
	// "Comments") to the error it should return.
	Fail map[string]error

	// UnknownProject makes Query return a nil result set.
	UnknownProject bool
}

// NewMemoryStore creates an empty store. Created ids start at 100.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   100,
		items:    make(map[int]*remote.WorkItem),
		comments: make(map[int][]remote.Comment),
		Fail:     make(map[string]error),
	}
}

// Seed stores item as-is and returns it.
func (s *MemoryStore) Seed(item *remote.WorkItem) *remote.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.Fields == nil {
		item.Fields = map[string]any{}
	}
	s.items[item.ID] = item
	if item.ID >= s.nextID {
		s.nextID = item.ID + 1
	}
	return item
}

// AddComment appends a comment to a work item's discussion.
func (s *MemoryStore) AddComment(id int, author, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[id] = append(s.comments[id], remote.Comment{
		ID:        len(s.comments[id]) + 1,
		Text:      text,
		CreatedBy: remote.Identity{UniqueName: author},
	})
}

// Item returns the current state of a stored item.
func (s *MemoryStore) Item(id int) (*remote.WorkItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok
}

// Len returns the number of stored items.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Calls returns every recorded call in order.
func (s *MemoryStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns the recorded calls to method.
func (s *MemoryStore) CallsTo(method string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (s *MemoryStore) record(c Call) error {
	s.calls = append(s.calls, c)
	return s.Fail[c.Method]
}

var (
	titleClause = regexp.MustCompile(`\[System\.Title\] CONTAINS '((?:[^']|'')*)'`)
	tagClause   = regexp.MustCompile(`\[System\.Tags\] CONTAINS '((?:[^']|'')*)'`)
)

func unquote(s string) string {
	return strings.ReplaceAll(s, "''", "'")
}

// Query implements remote.Store.
func (s *MemoryStore) Query(ctx context.Context, wiql, project string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "Query", Project: project, WIQL: wiql}); err != nil {
		return nil, err
	}
	if s.UnknownProject {
		return nil, nil
	}

	var title string
	if m := titleClause.FindStringSubmatch(wiql); m != nil {
		title = unquote(m[1])
	}
	var tags []string
	for _, m := range tagClause.FindAllStringSubmatch(wiql, -1) {
		tags = append(tags, unquote(m[1]))
	}

	ids := []int{}
	for id, item := range s.items {
		t, _ := item.String(remote.FieldTitle)
		if !strings.Contains(t, title) {
			continue
		}
		itemTags, _ := item.Tags()
		match := true
		for _, tag := range tags {
			if !remote.HasTag(itemTags, tag) {
				match = false
				break
			}
		}
		if match {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// Get implements remote.Store.
func (s *MemoryStore) Get(ctx context.Context, id int, expand remote.Expand) (*remote.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "Get", ID: id}); err != nil {
		return nil, err
	}
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %d does not exist", id)
	}
	return remote.Document(nil).ApplyTo(item), nil
}

// Create implements remote.Store.
func (s *MemoryStore) Create(ctx context.Context, doc remote.Document, project, workItemType string, bypassRules bool) (*remote.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "Create", Project: project, Type: workItemType, Bypass: bypassRules, Patch: doc}); err != nil {
		return nil, err
	}
	item := doc.ApplyTo(&remote.WorkItem{ID: s.nextID})
	item.Fields[remote.FieldWorkItemType] = workItemType
	s.nextID++
	s.items[item.ID] = item
	return remote.Document(nil).ApplyTo(item), nil
}

// Update implements remote.Store.
func (s *MemoryStore) Update(ctx context.Context, doc remote.Document, id int, project string, bypassRules bool) (*remote.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "Update", ID: id, Project: project, Bypass: bypassRules, Patch: doc}); err != nil {
		return nil, err
	}
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %d does not exist", id)
	}
	updated := doc.ApplyTo(item)
	s.items[id] = updated
	return remote.Document(nil).ApplyTo(updated), nil
}

// Comments implements remote.Store.
func (s *MemoryStore) Comments(ctx context.Context, project string, id int) ([]remote.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "Comments", ID: id, Project: project}); err != nil {
		return nil, err
	}
	out := make([]remote.Comment, len(s.comments[id]))
	copy(out, s.comments[id])
	return out, nil
}
