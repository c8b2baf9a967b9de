// Package ado is the Azure DevOps REST implementation of remote.Store.
package ado

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/boardsync/internal/remote"
)

// APIVersion is sent with every work item tracking request.
const APIVersion = "7.1"

// commentsAPIVersion is the version the comments endpoint requires.
const commentsAPIVersion = "7.1-preview.4"

// DefaultBaseURL is the Azure DevOps Services host.
const DefaultBaseURL = "https://dev.azure.com"

const (
	contentTypeJSON      = "application/json"
	contentTypeJSONPatch = "application/json-patch+json"
)

// StatusError is a non-2xx response from the service.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Config holds the connection settings.
type Config struct {
	BaseURL      string
	Organization string
	Token        string
	Timeout      time.Duration
}

// Client talks to one Azure DevOps organization.
type Client struct {
	base  string
	token string
	http  *http.Client
}

var _ remote.Store = (*Client)(nil)

// New creates a client for cfg.Organization.
func New(cfg Config) (*Client, error) {
	if cfg.Organization == "" {
		return nil, fmt.Errorf("ado: organization is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:  base + "/" + url.PathEscape(cfg.Organization),
		token: cfg.Token,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}, nil
}

// endpoint builds an organization-relative URL. Path segments are escaped
// individually; an empty project yields an organization-level URL.
func (c *Client) endpoint(project string, segments []string, query url.Values) string {
	var sb strings.Builder
	sb.WriteString(c.base)
	if project != "" {
		sb.WriteString("/")
		sb.WriteString(url.PathEscape(project))
	}
	sb.WriteString("/_apis/wit")
	for _, s := range segments {
		sb.WriteString("/")
		sb.WriteString(url.PathEscape(s))
	}
	if query == nil {
		query = url.Values{}
	}
	if !query.Has("api-version") {
		query.Set("api-version", APIVersion)
	}
	sb.WriteString("?")
	sb.WriteString(query.Encode())
	return sb.String()
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.SetBasicAuth("", c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, redact(endpoint), err)
	}
	defer resp.Body.Close()
	slog.Debug("ado request", "method", method, "url", redact(endpoint), "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: method, URL: redact(endpoint), StatusCode: resp.StatusCode}
		var apiErr struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) == nil {
			se.Message = apiErr.Message
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// redact strips the query string for logs and errors.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

type wiqlResponse struct {
	WorkItems []struct {
		ID int `json:"id"`
	} `json:"workItems"`
}

// Query implements remote.Store. A 404 for the project yields a nil slice.
func (c *Client) Query(ctx context.Context, wiql, project string) ([]int, error) {
	var resp wiqlResponse
	err := c.do(ctx, http.MethodPost, c.endpoint(project, []string{"wiql"}, nil), contentTypeJSON,
		map[string]string{"query": wiql}, &resp)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(resp.WorkItems))
	for _, wi := range resp.WorkItems {
		ids = append(ids, wi.ID)
	}
	return ids, nil
}

// Get implements remote.Store.
func (c *Client) Get(ctx context.Context, id int, expand remote.Expand) (*remote.WorkItem, error) {
	q := url.Values{}
	if expand != "" {
		q.Set("$expand", string(expand))
	}
	var item remote.WorkItem
	if err := c.do(ctx, http.MethodGet, c.endpoint("", []string{"workitems", strconv.Itoa(id)}, q), "", nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func bypassQuery(bypassRules bool) url.Values {
	q := url.Values{}
	if bypassRules {
		q.Set("bypassRules", "true")
	}
	return q
}

// Create implements remote.Store. It returns nil without error when the
// service answers with no work item.
func (c *Client) Create(ctx context.Context, doc remote.Document, project, workItemType string, bypassRules bool) (*remote.WorkItem, error) {
	var item remote.WorkItem
	endpoint := c.endpoint(project, []string{"workitems", "$" + workItemType}, bypassQuery(bypassRules))
	if err := c.do(ctx, http.MethodPost, endpoint, contentTypeJSONPatch, doc, &item); err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// Update implements remote.Store.
func (c *Client) Update(ctx context.Context, doc remote.Document, id int, project string, bypassRules bool) (*remote.WorkItem, error) {
	var item remote.WorkItem
	endpoint := c.endpoint(project, []string{"workitems", strconv.Itoa(id)}, bypassQuery(bypassRules))
	if err := c.do(ctx, http.MethodPatch, endpoint, contentTypeJSONPatch, doc, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

type commentsResponse struct {
	Comments          []remote.Comment `json:"comments"`
	ContinuationToken string           `json:"continuationToken"`
}

// Comments implements remote.Store. Pages are followed until the service
// stops returning a continuation token.
func (c *Client) Comments(ctx context.Context, project string, id int) ([]remote.Comment, error) {
	var out []remote.Comment
	token := ""
	for {
		q := url.Values{}
		q.Set("api-version", commentsAPIVersion)
		q.Set("order", "asc")
		if token != "" {
			q.Set("continuationToken", token)
		}

		var page commentsResponse
		if err := c.do(ctx, http.MethodGet, c.endpoint(project, []string{"workItems", strconv.Itoa(id), "comments"}, q), "", nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Comments...)
		if page.ContinuationToken == "" || page.ContinuationToken == token {
			return out, nil
		}
		token = page.ContinuationToken
	}
}
