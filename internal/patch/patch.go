// Package patch builds work item patch documents from issue facts.
//
// Every function takes the document built so far and returns it extended.
// None perform I/O. Diffing functions compare against the snapshot passed
// in, never a fresh read, and treat an absent field as different from the
// empty string so the first write always fires. A nil snapshot means the
// record does not exist yet; every field is then absent.
package patch

import (
	"fmt"
	"strings"

	"github.com/roach88/boardsync/internal/remote"
)

// CommentSeparator joins multiple history entries in one operation.
const CommentSeparator = "</br></br>"

// UnassignedNote is the history entry that accompanies an unassignment.
const UnassignedNote = "GitHub issue unassigned"

// IssueTitle is the work item title for a source issue. The suffix is what
// the locator searches for.
func IssueTitle(title string, number int) string {
	return fmt.Sprintf("%s %s", title, IssueMarker(number))
}

// IssueMarker is the title fragment that identifies issue number.
func IssueMarker(number int) string {
	return fmt.Sprintf("(GitHub Issue #%d)", number)
}

func set(d remote.Document, field string, value any) remote.Document {
	return append(d, remote.Operation{Op: remote.OpAdd, Path: remote.FieldPath(field), Value: value})
}

// Create starts a document for a new work item. Tags are written as
// "a; b; ". The area path is only set when configured.
func Create(title, description string, tags []string, areaPath string) remote.Document {
	var sb strings.Builder
	for _, tag := range tags {
		sb.WriteString(tag)
		sb.WriteString("; ")
	}

	d := remote.Document{}
	d = set(d, remote.FieldTitle, title)
	d = set(d, remote.FieldDescription, description)
	d = set(d, remote.FieldTags, sb.String())
	if areaPath != "" {
		d = set(d, remote.FieldAreaPath, areaPath)
	}
	return d
}

// TitleAndBody emits title and description operations for whichever of the
// two differ from the snapshot. title is the full work item title.
func TitleAndBody(d remote.Document, rec *remote.WorkItem, title, body string) remote.Document {
	if cur, ok := rec.String(remote.FieldTitle); !ok || cur != title {
		d = set(d, remote.FieldTitle, title)
	}
	if cur, ok := rec.String(remote.FieldDescription); !ok || cur != body {
		d = set(d, remote.FieldDescription, body)
	}
	return d
}

// State emits a state operation when the snapshot's state differs.
func State(d remote.Document, rec *remote.WorkItem, state string) remote.Document {
	if cur, ok := rec.State(); ok && cur == state {
		return d
	}
	return set(d, remote.FieldState, state)
}

// setAssignee writes the assigned-to operation, replacing an earlier one in
// the same document so assignment and unassignment never coexist.
func setAssignee(d remote.Document, value string) remote.Document {
	if i := d.Index(remote.FieldPath(remote.FieldAssignedTo)); i >= 0 {
		d[i].Value = value
		return d
	}
	return set(d, remote.FieldAssignedTo, value)
}

// Assign sets the assignee to identity when the snapshot holds someone
// else, and appends note to the history.
func Assign(d remote.Document, rec *remote.WorkItem, identity, note string) remote.Document {
	if cur, ok := rec.AssignedTo(); ok && cur == identity {
		return d
	}
	d = setAssignee(d, identity)
	return Comment(d, note)
}

// Unassign clears the assignee when the snapshot has one.
func Unassign(d remote.Document, rec *remote.WorkItem) remote.Document {
	if _, ok := rec.AssignedTo(); !ok {
		return d
	}
	d = setAssignee(d, "")
	return Comment(d, UnassignedNote)
}

// AddLabel appends label to the snapshot's tags unless already present.
func AddLabel(d remote.Document, rec *remote.WorkItem, label string) remote.Document {
	if label == "" {
		return d
	}
	tags, _ := rec.Tags()
	if remote.HasTag(tags, label) {
		return d
	}
	if strings.TrimSpace(tags) == "" {
		return set(d, remote.FieldTags, label)
	}
	return set(d, remote.FieldTags, tags+"; "+label)
}

// RemoveLabel removes the first tag token equal to label when present.
// The remaining tokens are rejoined with "; ", keeping a trailing separator
// if the snapshot had one.
func RemoveLabel(d remote.Document, rec *remote.WorkItem, label string) remote.Document {
	if label == "" {
		return d
	}
	tags, _ := rec.Tags()
	if !remote.HasTag(tags, label) {
		return d
	}

	tokens := remote.SplitTags(tags)
	kept := make([]string, 0, len(tokens))
	removed := false
	for _, t := range tokens {
		if !removed && strings.EqualFold(t, label) {
			removed = true
			continue
		}
		kept = append(kept, t)
	}

	updated := strings.Join(kept, "; ")
	if len(kept) > 0 && strings.HasSuffix(strings.TrimSpace(tags), ";") {
		updated += "; "
	}
	return set(d, remote.FieldTags, updated)
}

// Comment appends text to the history. A document carries at most one
// history operation; later text is joined onto it.
func Comment(d remote.Document, text string) remote.Document {
	if text == "" {
		return d
	}
	if i := d.Index(remote.FieldPath(remote.FieldHistory)); i >= 0 {
		prev, _ := d[i].Value.(string)
		d[i].Value = prev + CommentSeparator + text
		return d
	}
	return set(d, remote.FieldHistory, text)
}

// Hyperlink adds a hyperlink relation to url.
func Hyperlink(d remote.Document, url string) remote.Document {
	return append(d, remote.Operation{
		Op:    remote.OpAdd,
		Path:  remote.PathRelations,
		Value: remote.Relation{Rel: remote.RelHyperlink, URL: url},
	})
}

// OnlyHistory reports whether the document's sole mutation is a history
// entry.
func OnlyHistory(d remote.Document) bool {
	return len(d) == 1 && d[0].Path == remote.FieldPath(remote.FieldHistory)
}
