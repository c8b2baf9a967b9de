// Package xref writes the AB#<id> back-reference into a source issue body
// so the issue links to the work item created for it.
package xref

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
)

// MarkerPrefix precedes the token on the line appended to the issue body.
const MarkerPrefix = "Azure DevOps Bot: "

// IssueRef addresses an issue in the source tracker.
type IssueRef struct {
	Owner  string
	Repo   string
	Number int
}

func (r IssueRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// Issue is the part of a source issue the writer reads and writes.
type Issue struct {
	Number int
	Body   string
	URL    string
}

// IssueTracker reads and updates issue bodies in the source tracker.
type IssueTracker interface {
	GetIssue(ctx context.Context, ref IssueRef) (*Issue, error)
	UpdateIssueBody(ctx context.Context, ref IssueRef, body string) (*Issue, error)
}

// Token is the machine-parseable reference to work item id.
func Token(id int) string {
	return "AB#" + strconv.Itoa(id)
}

// Contains reports whether body already references id. The match is on a
// whole token, so AB#42 does not count as present in a body with AB#420.
func Contains(body string, id int) bool {
	re := regexp.MustCompile(`\bAB#` + strconv.Itoa(id) + `\b`)
	return re.MatchString(body)
}

// AppendMarker returns body with the marker line for id appended.
func AppendMarker(body string, id int) string {
	return body + "\r\n\r\n" + MarkerPrefix + Token(id)
}

// LinkBack appends the marker for id to the issue body unless the body
// already references it. It returns the updated issue, or nil when
// nothing was written.
func LinkBack(ctx context.Context, tracker IssueTracker, ref IssueRef, id int) (*Issue, error) {
	issue, err := tracker.GetIssue(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("link back %s: read issue: %w", ref, err)
	}

	if Contains(issue.Body, id) {
		slog.Debug("issue already references work item", "issue", ref.String(), "token", Token(id))
		return nil, nil
	}

	updated, err := tracker.UpdateIssueBody(ctx, ref, AppendMarker(issue.Body, id))
	if err != nil {
		return nil, fmt.Errorf("link back %s: update issue: %w", ref, err)
	}

	slog.Info("linked issue to work item", "issue", ref.String(), "token", Token(id))
	return updated, nil
}
