// Package remote defines the work-tracking store boundary: the work item
// snapshot type and the Store interface the reconciliation engine consumes.
package remote

import (
	"context"
	"strings"
	"time"
)

// Field reference names used by the engine.
const (
	FieldID           = "System.Id"
	FieldWorkItemType = "System.WorkItemType"
	FieldTitle        = "System.Title"
	FieldDescription  = "System.Description"
	FieldState        = "System.State"
	FieldTags         = "System.Tags"
	FieldAssignedTo   = "System.AssignedTo"
	FieldAreaPath     = "System.AreaPath"
	FieldHistory      = "System.History"
	FieldTeamProject  = "System.TeamProject"
)

// Expand selects how much of a work item Get returns.
type Expand string

const (
	ExpandNone      Expand = "None"
	ExpandRelations Expand = "Relations"
	ExpandFields    Expand = "Fields"
	ExpandLinks     Expand = "Links"
	ExpandAll       Expand = "All"
)

// RelHyperlink is the relation type used to point a work item at its issue.
const RelHyperlink = "Hyperlink"

// Relation is a link from a work item to another resource.
type Relation struct {
	Rel string `json:"rel"`
	URL string `json:"url"`
}

// Identity is the shape the store uses for identity-valued fields.
type Identity struct {
	DisplayName string `json:"displayName,omitempty"`
	UniqueName  string `json:"uniqueName,omitempty"`
}

// WorkItem is a snapshot of a remote record. The engine treats it as
// read-only and possibly stale.
type WorkItem struct {
	ID        int            `json:"id"`
	Rev       int            `json:"rev,omitempty"`
	Fields    map[string]any `json:"fields"`
	Relations []Relation     `json:"relations,omitempty"`
	URL       string         `json:"url,omitempty"`
}

// String returns a string field. ok is false when the field is absent or
// not a string, so callers can tell "unset" apart from "".
func (w *WorkItem) String(field string) (string, bool) {
	if w == nil || w.Fields == nil {
		return "", false
	}
	v, ok := w.Fields[field]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// State returns System.State.
func (w *WorkItem) State() (string, bool) {
	return w.String(FieldState)
}

// Tags returns the raw System.Tags value.
func (w *WorkItem) Tags() (string, bool) {
	return w.String(FieldTags)
}

// AssignedTo returns the unique name of the assignee. The store returns an
// identity object; values written by a patch are plain strings. Both are
// accepted. An empty unique name counts as unassigned.
func (w *WorkItem) AssignedTo() (string, bool) {
	if w == nil || w.Fields == nil {
		return "", false
	}
	switch v := w.Fields[FieldAssignedTo].(type) {
	case string:
		return v, v != ""
	case Identity:
		return v.UniqueName, v.UniqueName != ""
	case *Identity:
		if v == nil {
			return "", false
		}
		return v.UniqueName, v.UniqueName != ""
	case map[string]any:
		name, _ := v["uniqueName"].(string)
		return name, name != ""
	default:
		return "", false
	}
}

// SplitTags splits a System.Tags value into trimmed, non-empty tokens.
func SplitTags(tags string) []string {
	parts := strings.Split(tags, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HasTag reports whether tags contains tag as a whole token,
// case-insensitively (the store treats tags case-insensitively).
func HasTag(tags, tag string) bool {
	for _, t := range SplitTags(tags) {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Comment is one discussion entry on a work item.
type Comment struct {
	ID          int       `json:"id"`
	Text        string    `json:"text"`
	CreatedBy   Identity  `json:"createdBy"`
	CreatedDate time.Time `json:"createdDate"`
}

// Store is the work-tracking store consumed by the engine. Implementations
// never retry; a failed call is returned as-is.
type Store interface {
	// Query runs a WIQL query scoped to project and returns matching ids.
	// A nil slice with a nil error means the store did not recognize the
	// project; an empty non-nil slice means no matches.
	Query(ctx context.Context, wiql, project string) ([]int, error)

	Get(ctx context.Context, id int, expand Expand) (*WorkItem, error)

	Create(ctx context.Context, doc Document, project, workItemType string, bypassRules bool) (*WorkItem, error)

	Update(ctx context.Context, doc Document, id int, project string, bypassRules bool) (*WorkItem, error)

	// Comments returns the discussion of a work item, oldest first.
	Comments(ctx context.Context, project string, id int) ([]Comment, error)
}
