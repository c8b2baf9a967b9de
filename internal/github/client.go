// Package github is the GitHub REST implementation of xref.IssueTracker.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/boardsync/internal/xref"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

const apiVersion = "2022-11-28"

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, msg)
}

// Client reads and edits issues with a token.
type Client struct {
	base  string
	token string
	http  *http.Client
}

var _ xref.IssueTracker = (*Client)(nil)

// New creates a client. An empty baseURL uses DefaultBaseURL.
func New(baseURL, token string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		base:  base,
		token: token,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

type issue struct {
	Number  int    `json:"number"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

func (c *Client) issueURL(ref xref.IssueRef) string {
	return fmt.Sprintf("%s/repos/%s/%s/issues/%s", c.base,
		url.PathEscape(ref.Owner), url.PathEscape(ref.Repo), strconv.Itoa(ref.Number))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (*xref.Issue, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	slog.Debug("github request", "method", method, "url", endpoint, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: method, URL: endpoint, StatusCode: resp.StatusCode}
		var apiErr struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) == nil {
			se.Message = apiErr.Message
		}
		return nil, se
	}

	var out issue
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &xref.Issue{Number: out.Number, Body: out.Body, URL: out.HTMLURL}, nil
}

// GetIssue implements xref.IssueTracker.
func (c *Client) GetIssue(ctx context.Context, ref xref.IssueRef) (*xref.Issue, error) {
	return c.do(ctx, http.MethodGet, c.issueURL(ref), nil)
}

// UpdateIssueBody implements xref.IssueTracker. Only the body is sent.
func (c *Client) UpdateIssueBody(ctx context.Context, ref xref.IssueRef, body string) (*xref.Issue, error) {
	return c.do(ctx, http.MethodPatch, c.issueURL(ref), map[string]string{"body": body})
}
