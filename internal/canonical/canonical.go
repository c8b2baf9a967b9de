// Package canonical produces RFC 8785 canonical JSON and content hashes.
//
// Patch documents are hashed with this encoding before they are written to
// the run journal, so the same intended mutation always yields the same
// hash regardless of map iteration order or struct field order.
//
// Constraints:
//   - Object keys sorted by UTF-16 code units
//   - No HTML escaping
//   - Strings NFC normalized
//   - Integers only; floats and null are rejected
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with older journal rows.
const (
	DomainPatch   = "boardsync/patch/v1"
	DomainPayload = "boardsync/payload/v1"
)

// Marshal produces canonical JSON for v.
//
// Supported inputs are strings, integers, bools, []any, map[string]any, and
// any value that encoding/json can encode into those shapes (structs,
// typed slices). Structs are first encoded with encoding/json and decoded
// back with UseNumber so integer fields survive unchanged.
func Marshal(v any) ([]byte, error) {
	flat, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, flat); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the hex SHA-256 of domain + 0x00 + canonical(v).
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: %w", err)
	}
	return hashWithDomain(domain, data), nil
}

// HashBytes hashes data verbatim under domain. It is used for inputs that
// are stored byte-for-byte, such as webhook payloads, which may contain
// floats and nulls that Marshal rejects.
func HashBytes(domain string, data []byte) string {
	return hashWithDomain(domain, data)
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// normalize converts v into the closed set of shapes encode understands.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string, bool, int, int64, json.Number:
		return val, nil
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			n, err := normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	default:
		// Round-trip through encoding/json to flatten structs and typed slices.
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("unsupported type for canonical JSON: %T: %w", v, err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return nil, fmt.Errorf("decode %T: %w", v, err)
		}
		return normalize(generic)
	}
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case string:
		return encodeString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case int:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case int64:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return fmt.Errorf("floats are forbidden in canonical JSON: %s", val)
		}
		fmt.Fprintf(buf, "%d", n)
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		buf.WriteByte('{')
		for i, k := range sortedKeys(val) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// encodeString writes s NFC-normalized with only the escapes RFC 8785 allows.
func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte("\n"))
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators turns \u2028 and \u2029 back into literal runes.
// encoding/json escapes them for JavaScript; RFC 8785 does not. Escape
// sequences are walked pairwise so an escaped backslash followed by the
// text "u2028" is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' || i+1 >= len(data) {
			out = append(out, data[i])
			continue
		}
		if i+5 < len(data) && data[i+1] == 'u' && string(data[i+2:i+5]) == "202" {
			switch data[i+5] {
			case '8':
				out = append(out, "\u2028"...)
				i += 5
				continue
			case '9':
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		out = append(out, data[i], data[i+1])
		i++
	}
	return out
}

// sortedKeys returns keys in UTF-16 code unit order. Go's native string
// comparison orders by UTF-8 bytes, which differs for supplementary planes.
func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
	})
	return keys
}
