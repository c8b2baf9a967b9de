// Package event normalizes GitHub issue webhook payloads into Event values.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the closed set of issue actions the engine dispatches on.
type Kind int

const (
	KindUnknown Kind = iota
	KindOpened
	KindEdited
	KindCreated // a comment was added to the issue
	KindClosed
	KindReopened
	KindAssigned
	KindUnassigned
	KindLabeled
	KindUnlabeled
	KindDeleted
	KindTransferred
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindOpened:      "opened",
	KindEdited:      "edited",
	KindCreated:     "created",
	KindClosed:      "closed",
	KindReopened:    "reopened",
	KindAssigned:    "assigned",
	KindUnassigned:  "unassigned",
	KindLabeled:     "labeled",
	KindUnlabeled:   "unlabeled",
	KindDeleted:     "deleted",
	KindTransferred: "transferred",
}

// ParseKind maps a payload action to a Kind. Unrecognized actions map to
// KindUnknown; the raw action is kept on Event.Action.
func ParseKind(action string) Kind {
	for k, name := range kindNames {
		if k != KindUnknown && name == action {
			return k
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Implemented reports whether the engine acts on this kind. Deleted and
// transferred are accepted but produce no mutation.
func (k Kind) Implemented() bool {
	switch k {
	case KindDeleted, KindTransferred, KindUnknown:
		return false
	default:
		return true
	}
}

// Issue state values as reported by GitHub.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Issue is the source issue an event refers to.
type Issue struct {
	Number int
	Title  string
	Body   string
	State  string
	URL    string
	User   string
}

// IsOpen reports whether the issue is currently open.
func (i Issue) IsOpen() bool {
	return i.State == StateOpen
}

// Repo identifies the repository the issue lives in.
type Repo struct {
	Owner    string
	Name     string
	FullName string
	URL      string
}

// Comment is the comment carried by a comment event, if any.
type Comment struct {
	Body string
	URL  string
}

// Event is the normalized inbound fact set for one invocation.
type Event struct {
	Kind Kind
	// Action is the raw payload action, kept for logging unknown kinds.
	Action   string
	Issue    Issue
	Repo     Repo
	Label    string
	Assignee string
	Comment  Comment
	// DeliveryID is the webhook delivery identifier when the host provides one.
	DeliveryID string
}

type login struct {
	Login string `json:"login"`
}

// payload mirrors the subset of the GitHub issues / issue_comment webhook
// body that the engine reads.
type payload struct {
	Action string `json:"action"`
	Issue  *struct {
		HTMLURL  string `json:"html_url"`
		Number   *int   `json:"number"`
		Title    string `json:"title"`
		State    string `json:"state"`
		Body     string `json:"body"`
		User     *login `json:"user"`
		Assignee *login `json:"assignee"`
	} `json:"issue"`
	Repository *struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
		Owner    *login `json:"owner"`
	} `json:"repository"`
	Assignee *login `json:"assignee"`
	Label    *struct {
		Name string `json:"name"`
	} `json:"label"`
	Comment *struct {
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
	} `json:"comment"`
}

// FromPayload decodes a webhook payload. The issue and repository objects
// are required; everything else is optional.
func FromPayload(data []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.Issue == nil {
		return Event{}, fmt.Errorf("decode payload: missing issue")
	}
	if p.Repository == nil {
		return Event{}, fmt.Errorf("decode payload: missing repository")
	}

	ev := Event{
		Kind:   ParseKind(p.Action),
		Action: p.Action,
		Issue: Issue{
			Number: -1,
			Title:  p.Issue.Title,
			Body:   p.Issue.Body,
			State:  p.Issue.State,
			URL:    p.Issue.HTMLURL,
		},
		Repo: Repo{
			Name:     p.Repository.Name,
			FullName: p.Repository.FullName,
			URL:      p.Repository.HTMLURL,
		},
	}
	if p.Issue.Number != nil {
		ev.Issue.Number = *p.Issue.Number
	}
	if p.Issue.User != nil {
		ev.Issue.User = p.Issue.User.Login
	}
	if p.Repository.Owner != nil {
		ev.Repo.Owner = p.Repository.Owner.Login
	}

	// The full name is authoritative for owner and name when present.
	if owner, name, ok := strings.Cut(ev.Repo.FullName, "/"); ok {
		ev.Repo.Owner = owner
		ev.Repo.Name = name
	}

	switch {
	case p.Assignee != nil:
		ev.Assignee = p.Assignee.Login
	case p.Issue.Assignee != nil:
		ev.Assignee = p.Issue.Assignee.Login
	}
	if p.Label != nil {
		ev.Label = p.Label.Name
	}
	if p.Comment != nil {
		ev.Comment = Comment{Body: p.Comment.Body, URL: p.Comment.HTMLURL}
	}

	return ev, nil
}
