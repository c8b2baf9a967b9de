package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// evaluate checks one assertion against the harness's final state.
func (h *Harness) evaluate(a Assertion) error {
	switch a.Type {
	case AssertCallCount:
		got := len(h.store.CallsTo(a.Method))
		if got != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d %s calls", a.Count, a.Method),
				Actual:   fmt.Sprintf("%d", got),
			}
		}

	case AssertFieldEquals:
		item, ok := h.store.Item(a.Record)
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("work item %d", a.Record),
				Actual:   "no such work item",
			}
		}
		val, present := item.Fields[a.Field]
		got := "<absent>"
		if present {
			got = fmt.Sprint(val)
		}
		if !present || got != a.Equals {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d.%s = %q", a.Record, a.Field, a.Equals),
				Actual:   got,
			}
		}

	case AssertIssueBodyContains:
		ref := issueRef(a.Repo, a.Number)
		body := h.tracker.Body(ref)
		if !strings.Contains(body, a.Contains) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s body containing %q", ref, a.Contains),
				Actual:   fmt.Sprintf("%q", body),
			}
		}

	case AssertIssueUpdates:
		ref := issueRef(a.Repo, a.Number)
		got := 0
		for _, u := range h.tracker.Updates() {
			if u == ref {
				got++
			}
		}
		if got != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d updates to %s", a.Count, ref),
				Actual:   fmt.Sprintf("%d", got),
			}
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
