package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/boardsync/internal/canonical"
)

// OpAdd is the only JSON Patch operation the engine emits. For work item
// fields, "add" replaces the current value.
const OpAdd = "add"

// Path prefixes for patch operations.
const (
	fieldsPrefix  = "/fields/"
	PathRelations = "/relations/-"
)

// FieldPath returns the patch path for a field reference name.
func FieldPath(field string) string {
	return fieldsPrefix + field
}

// Operation is a single JSON Patch operation.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Document is an ordered batch of operations sent to the store in one call.
type Document []Operation

// IsEmpty reports whether the document has no operations. Empty documents
// must never be sent to the store.
func (d Document) IsEmpty() bool {
	return len(d) == 0
}

// Index returns the position of the first operation targeting path, or -1.
func (d Document) Index(path string) int {
	for i, op := range d {
		if op.Path == path {
			return i
		}
	}
	return -1
}

// Field returns the value of the operation targeting field, if any.
func (d Document) Field(field string) (any, bool) {
	i := d.Index(FieldPath(field))
	if i < 0 {
		return nil, false
	}
	return d[i].Value, true
}

// Hash returns the canonical content hash of the document.
func (d Document) Hash() (string, error) {
	if d == nil {
		d = Document{}
	}
	return canonical.Hash(canonical.DomainPatch, d)
}

// JSON returns the canonical JSON encoding of the document, for logs.
func (d Document) JSON() string {
	if d == nil {
		d = Document{}
	}
	data, err := canonical.Marshal(d)
	if err != nil {
		return "<unencodable patch: " + err.Error() + ">"
	}
	return string(data)
}

// ApplyTo returns a copy of w with the document applied, the way the store
// would apply it. A nil w yields a new item with ID 0. History operations
// are not stored as a field.
func (d Document) ApplyTo(w *WorkItem) *WorkItem {
	out := &WorkItem{Fields: map[string]any{}}
	if w != nil {
		out.ID = w.ID
		out.Rev = w.Rev
		out.URL = w.URL
		for k, v := range w.Fields {
			out.Fields[k] = v
		}
		out.Relations = append(out.Relations, w.Relations...)
	}
	for _, op := range d {
		switch {
		case op.Path == PathRelations:
			switch rel := op.Value.(type) {
			case Relation:
				out.Relations = append(out.Relations, rel)
			case map[string]any:
				r, _ := rel["rel"].(string)
				u, _ := rel["url"].(string)
				out.Relations = append(out.Relations, Relation{Rel: r, URL: u})
			}
		case strings.HasPrefix(op.Path, fieldsPrefix):
			field := strings.TrimPrefix(op.Path, fieldsPrefix)
			if field == FieldHistory {
				continue
			}
			out.Fields[field] = op.Value
		}
	}
	if len(d) > 0 {
		out.Rev++
	}
	return out
}

// ParseDocument decodes a JSON patch document. Relation values decode as
// maps, which ApplyTo and Hash accept.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("parse patch document: %w", err)
	}
	if d == nil {
		d = Document{}
	}
	return d, nil
}
