// Package locator finds the remote work item that corresponds to a source
// issue without a stored mapping. A record is identified by a title
// fragment plus a set of tags that must all be present.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/boardsync/internal/event"
	"github.com/roach88/boardsync/internal/patch"
	"github.com/roach88/boardsync/internal/remote"
)

// TagGitHubIssue is the tag every synchronized record carries.
const TagGitHubIssue = "GitHub Issue"

// ControlTitle is the sentinel title of the sync-state control record.
const ControlTitle = "[GitHub AzureDevOps Sync State]"

// ErrNotFound means the query ran and matched nothing. It is a valid
// state, not a failure.
var ErrNotFound = errors.New("work item not found")

// ErrProjectNotFound means the store returned no result set at all, which
// it does when the project name is wrong.
var ErrProjectNotFound = errors.New("project not found")

// Error reports a failed lookup. Callers must treat it as fatal for the
// invocation.
type Error struct {
	Op    string // "query" or "get"
	Query string
	ID    int
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "get" {
		return fmt.Sprintf("locate: get work item %d: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("locate: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ConflictError reports that more than one record matched a predicate that
// should identify at most one.
type ConflictError struct {
	TitleFragment string
	IDs           []int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("locate: %d work items match %q: %v", len(e.IDs), e.TitleFragment, e.IDs)
}

// Query is a title-and-tags search predicate.
type Query struct {
	Project       string
	TitleContains string
	Tags          []string
}

// selectFields is the minimal field list the query returns.
var selectFields = []string{
	remote.FieldID,
	remote.FieldWorkItemType,
	remote.FieldDescription,
	remote.FieldTitle,
	remote.FieldAssignedTo,
	remote.FieldState,
	remote.FieldTags,
}

// WIQL renders the query. The project is bound through @project; literal
// values are single-quoted with embedded quotes doubled.
func (q Query) WIQL() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, f := range selectFields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("[" + f + "]")
	}
	sb.WriteString(" FROM workitems WHERE [" + remote.FieldTeamProject + "] = @project")
	sb.WriteString(" AND [" + remote.FieldTitle + "] CONTAINS " + quote(q.TitleContains))
	for _, tag := range q.Tags {
		sb.WriteString(" AND [" + remote.FieldTags + "] CONTAINS " + quote(tag))
	}
	return sb.String()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Locator resolves queries against a store.
type Locator struct {
	store   remote.Store
	project string
}

// New creates a Locator scoped to project.
func New(store remote.Store, project string) *Locator {
	return &Locator{store: store, project: project}
}

// Locate returns the single record matching titleFragment and every tag.
//
// Returns ErrNotFound for zero matches, *ConflictError for more than one,
// and *Error when the query or the fetch fails.
func (l *Locator) Locate(ctx context.Context, titleFragment string, tags []string) (*remote.WorkItem, error) {
	q := Query{Project: l.project, TitleContains: titleFragment, Tags: tags}
	wiql := q.WIQL()

	ids, err := l.store.Query(ctx, wiql, l.project)
	if err != nil {
		return nil, &Error{Op: "query", Query: wiql, Err: err}
	}
	if ids == nil {
		return nil, &Error{Op: "query", Query: wiql, Err: fmt.Errorf("%w: %q", ErrProjectNotFound, l.project)}
	}

	switch len(ids) {
	case 0:
		slog.Debug("no work item matched", "title_fragment", titleFragment, "tags", tags)
		return nil, ErrNotFound
	case 1:
	default:
		return nil, &ConflictError{TitleFragment: titleFragment, IDs: ids}
	}

	item, err := l.store.Get(ctx, ids[0], remote.ExpandAll)
	if err != nil {
		return nil, &Error{Op: "get", Query: wiql, ID: ids[0], Err: err}
	}
	return item, nil
}

// IssueTags is the tag set that marks a record as belonging to repo.
func IssueTags(repo event.Repo) []string {
	return []string{TagGitHubIssue, repo.Name}
}

// FindIssue locates the record for issue number in repo.
func (l *Locator) FindIssue(ctx context.Context, repo event.Repo, number int) (*remote.WorkItem, error) {
	return l.Locate(ctx, patch.IssueMarker(number), IssueTags(repo))
}

// FindControl locates the sync-state control record for repo.
func (l *Locator) FindControl(ctx context.Context, repo event.Repo) (*remote.WorkItem, error) {
	return l.Locate(ctx, ControlTitle, IssueTags(repo))
}

// IsConfigurationError reports whether err stems from a bad project or
// organization rather than a transient failure.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrProjectNotFound)
}
