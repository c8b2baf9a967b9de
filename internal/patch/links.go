package patch

import (
	"fmt"

	"github.com/roach88/boardsync/internal/event"
)

// Link renders an HTML anchor for work item history.
func Link(url, label string) string {
	return fmt.Sprintf(`<a href="%s" target="_new">%s</a>`, url, label)
}

// IssueLink links to the issue the event refers to.
func IssueLink(ev event.Event) string {
	return Link(ev.Issue.URL, fmt.Sprintf("issue #%d", ev.Issue.Number))
}

// RepoLink links to the event's repository.
func RepoLink(ev event.Event) string {
	return Link(ev.Repo.URL, ev.Repo.FullName)
}

// UserLink links to a GitHub user profile.
func UserLink(login string) string {
	return Link("https://github.com/"+login, login)
}
