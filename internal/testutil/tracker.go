package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/boardsync/internal/xref"
)

// MemoryTracker is an in-memory xref.IssueTracker.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryTracker struct {
	mu      sync.Mutex
	issues  map[string]*xref.Issue
	updates []xref.IssueRef

	// FailUpdate, when set, is returned by UpdateIssueBody.
	FailUpdate error
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{issues: make(map[string]*xref.Issue)}
}

// Put stores an issue body under ref.
func (t *MemoryTracker) Put(ref xref.IssueRef, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issues[ref.String()] = &xref.Issue{Number: ref.Number, Body: body}
}

// Body returns the stored body for ref.
func (t *MemoryTracker) Body(ref xref.IssueRef) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if issue, ok := t.issues[ref.String()]; ok {
		return issue.Body
	}
	return ""
}

// Updates returns the refs UpdateIssueBody was called with, in order.
func (t *MemoryTracker) Updates() []xref.IssueRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]xref.IssueRef, len(t.updates))
	copy(out, t.updates)
	return out
}

// GetIssue implements xref.IssueTracker.
func (t *MemoryTracker) GetIssue(ctx context.Context, ref xref.IssueRef) (*xref.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	issue, ok := t.issues[ref.String()]
	if !ok {
		return nil, fmt.Errorf("issue %s not found", ref)
	}
	cp := *issue
	return &cp, nil
}

// UpdateIssueBody implements xref.IssueTracker.
func (t *MemoryTracker) UpdateIssueBody(ctx context.Context, ref xref.IssueRef, body string) (*xref.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates = append(t.updates, ref)
	if t.FailUpdate != nil {
		return nil, t.FailUpdate
	}
	issue, ok := t.issues[ref.String()]
	if !ok {
		return nil, fmt.Errorf("issue %s not found", ref)
	}
	issue.Body = body
	cp := *issue
	return &cp, nil
}
