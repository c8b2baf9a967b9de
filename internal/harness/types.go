package harness

import "github.com/roach88/boardsync/internal/remote"

// TraceEvent is the outcome of one delivery.
type TraceEvent struct {
	Seq       int64   `json:"seq"`
	Kind      string  `json:"kind"`
	Issue     int     `json:"issue"`
	Action    string  `json:"action"`
	RecordID  int     `json:"record_id,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
	Writes    []Write `json:"writes,omitempty"`

	// Links lists issues whose body received a back-reference.
	Links []string `json:"links,omitempty"`
}

// Write is a Create or Update that reached the store.
type Write struct {
	Method string          `json:"method"`
	ID     int             `json:"id,omitempty"`
	Patch  remote.Document `json:"patch"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
