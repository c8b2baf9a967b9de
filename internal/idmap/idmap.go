// Package idmap resolves GitHub logins to Azure DevOps identities through
// an external identity-mapping service.
//
// The service URL contains a single %s that receives the login. The
// response is JSON; the identity is selected with a JSONPath-style query
// such as "$.value[0].mail", which is evaluated as a CUE path over the
// decoded document.
package idmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Resolver calls the mapping service. It satisfies
// reconcile.IdentityResolver.
type Resolver struct {
	urlTemplate string
	token       string
	path        cue.Path
	http        *http.Client
}

// New creates a Resolver. urlTemplate must contain exactly one %s.
func New(urlTemplate, token, query string) (*Resolver, error) {
	if strings.Count(urlTemplate, "%s") != 1 {
		return nil, fmt.Errorf("idmap: url must contain exactly one %%s: %q", urlTemplate)
	}
	path, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		urlTemplate: urlTemplate,
		token:       token,
		path:        path,
		http:        &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// ParseQuery converts a JSONPath-style query into a CUE path. Supported
// forms are dotted names, bracketed quoted names and integer indexes:
// "$.a.b", "$['a-b'][0]", "a.b[2].c". Wildcards and filters are not.
func ParseQuery(query string) (cue.Path, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimPrefix(q, "$")
	if q == "" {
		return cue.Path{}, errors.New("idmap: empty query")
	}

	var sels []cue.Selector
	for i := 0; i < len(q); {
		switch q[i] {
		case '.':
			i++
			j := i
			for j < len(q) && q[j] != '.' && q[j] != '[' {
				j++
			}
			if j == i {
				return cue.Path{}, fmt.Errorf("idmap: empty name at offset %d in %q", i, query)
			}
			sels = append(sels, cue.Str(q[i:j]))
			i = j
		case '[':
			end := strings.IndexByte(q[i:], ']')
			if end < 0 {
				return cue.Path{}, fmt.Errorf("idmap: unterminated bracket in %q", query)
			}
			inner := strings.TrimSpace(q[i+1 : i+end])
			i += end + 1
			if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0] {
				sels = append(sels, cue.Str(inner[1:len(inner)-1]))
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil || n < 0 {
				return cue.Path{}, fmt.Errorf("idmap: unsupported selector [%s] in %q", inner, query)
			}
			sels = append(sels, cue.Index(n))
		default:
			// A leading bare name without "$.".
			if len(sels) > 0 {
				return cue.Path{}, fmt.Errorf("idmap: unexpected %q at offset %d in %q", q[i], i, query)
			}
			q = "." + q[i:]
			i = 0
		}
	}
	return cue.MakePath(sels...), nil
}

// Resolve implements reconcile.IdentityResolver. ok is false when the
// service does not know the login or the query selects nothing.
func (r *Resolver) Resolve(ctx context.Context, login string) (string, bool, error) {
	endpoint := fmt.Sprintf(r.urlTemplate, url.PathEscape(login))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.SetBasicAuth("", r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("idmap request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Debug("identity mapping has no entry", "login", login)
		return "", false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("idmap request: status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false, fmt.Errorf("read response: %w", err)
	}
	id, ok, err := r.Select(data)
	if err != nil {
		return "", false, err
	}
	if ok {
		slog.Debug("identity resolved by mapping service", "login", login, "identity", id)
	}
	return id, ok, nil
}

// Select evaluates the resolver's query over a JSON document.
func (r *Resolver) Select(data []byte) (string, bool, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}

	v := cuecontext.New().Encode(doc)
	if err := v.Err(); err != nil {
		return "", false, fmt.Errorf("encode response: %w", err)
	}

	sel := v.LookupPath(r.path)
	if !sel.Exists() || sel.Err() != nil {
		return "", false, nil
	}
	s, err := sel.String()
	if err != nil {
		return "", false, fmt.Errorf("idmap: %s is not a string: %w", r.path, err)
	}
	if s == "" {
		return "", false, nil
	}
	return s, true, nil
}
