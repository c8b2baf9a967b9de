// Package ledger derives creation permissions and identity mappings from
// the annotation history of the sync-state control record.
//
// Each annotation may carry a JSON payload:
//
//	{"gitHubAlias": "octocat", "labels": ["bug", "feature"]}
//
// The annotation's author becomes the approver for every listed label
// (first claim wins) and the remote identity for the alias (last mapping
// wins). Anything else in the history is ignored.
package ledger

import (
	"encoding/json"
	"errors"
	"html"
	"log/slog"
	"regexp"
	"strings"
)

// Annotation is one comment on the control record.
type Annotation struct {
	// Author is the remote unique name of the comment's author.
	Author string
	Text   string
}

// Payload is the structured content of an annotation. Labels is nil when
// the field is absent or is not an array of strings; the alias still counts
// in that case.
type Payload struct {
	GitHubAlias *string
	Labels      *[]string
}

// rawPayload defers decoding of each field so one bad field does not void
// the other.
type rawPayload struct {
	GitHubAlias json.RawMessage `json:"gitHubAlias"`
	Labels      json.RawMessage `json:"labels"`
}

// Status tags a Parse result.
type Status int

const (
	StatusOK Status = iota
	StatusMalformed
)

// Parse is the outcome of reading one annotation. Malformed annotations are
// values, not errors: they are skipped by Build.
type Parse struct {
	Status  Status
	Payload Payload
	Err     error
}

var errEmpty = errors.New("empty annotation")

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// ParseAnnotation reads the JSON payload of an annotation. The store keeps
// comments as HTML, so the text is retried with tags stripped and entities
// unescaped when the raw text does not parse.
func ParseAnnotation(text string) Parse {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Parse{Status: StatusMalformed, Err: errEmpty}
	}

	p, err := decode(raw)
	if err == nil {
		return Parse{Status: StatusOK, Payload: p}
	}

	stripped := strings.TrimSpace(html.UnescapeString(htmlTag.ReplaceAllString(raw, "")))
	if stripped != raw && stripped != "" {
		if p, err2 := decode(stripped); err2 == nil {
			return Parse{Status: StatusOK, Payload: p}
		}
	}
	return Parse{Status: StatusMalformed, Err: err}
}

func decode(s string) (Payload, error) {
	var raw rawPayload
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Payload{}, err
	}

	var p Payload
	var alias string
	if len(raw.GitHubAlias) > 0 && string(raw.GitHubAlias) != "null" && json.Unmarshal(raw.GitHubAlias, &alias) == nil {
		p.GitHubAlias = &alias
	}
	var labels []string
	if len(raw.Labels) > 0 && json.Unmarshal(raw.Labels, &labels) == nil && labels != nil {
		p.Labels = &labels
	}
	return p, nil
}

// Ledger is the derived, read-only permission view.
type Ledger struct {
	approvers  map[string]string
	identities map[string]string
}

// Build folds annotations, in order, into a Ledger.
func Build(annotations []Annotation) *Ledger {
	l := &Ledger{
		approvers:  make(map[string]string),
		identities: make(map[string]string),
	}

	for i, a := range annotations {
		res := ParseAnnotation(a.Text)
		if res.Status == StatusMalformed {
			slog.Debug("skipping annotation", "index", i, "author", a.Author, "error", res.Err)
			continue
		}
		if res.Payload.GitHubAlias == nil {
			continue
		}
		alias := *res.Payload.GitHubAlias

		if res.Payload.Labels != nil {
			for _, label := range *res.Payload.Labels {
				if _, claimed := l.approvers[label]; !claimed {
					l.approvers[label] = a.Author
				}
			}
		}

		l.identities[alias] = a.Author
	}

	return l
}

// Approver returns who approved label for record creation.
func (l *Ledger) Approver(label string) (string, bool) {
	if l == nil {
		return "", false
	}
	a, ok := l.approvers[label]
	return a, ok
}

// Identity returns the remote identity mapped to a GitHub login.
func (l *Ledger) Identity(login string) (string, bool) {
	if l == nil || login == "" {
		return "", false
	}
	id, ok := l.identities[login]
	return id, ok
}

// Labels returns the number of approved labels.
func (l *Ledger) Labels() int {
	if l == nil {
		return 0
	}
	return len(l.approvers)
}

// Identities returns the number of identity mappings.
func (l *Ledger) Identities() int {
	if l == nil {
		return 0
	}
	return len(l.identities)
}
