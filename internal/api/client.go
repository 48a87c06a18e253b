// Package api is the HTTP client for the remote analysis backend.
package api

import (
	"bytes"
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

	"golang.org/x/time/rate"

	"github.com/thiagokokada/gitodyssey/internal/filter"
	"github.com/thiagokokada/gitodyssey/internal/metrics"
	"github.com/thiagokokada/gitodyssey/internal/repo"
)

const DefaultBaseURL = "https://git-odyssey.onrender.com"

// ErrNotFound is returned for 404 responses.
var ErrNotFound = repo.ErrNotFound

// NetworkError is a transport failure or an unexpected response status.
// Status is 0 when no response arrived.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outgoing requests to rps per second. rps <= 0 disables
// the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type IngestRequest struct {
	URL          string `json:"url"`
	MaxCommits   int    `json:"max_commits,omitempty"`
	ContextLines int    `json:"context_lines"`
}

type FilterRequest struct {
	Query      string          `json:"query"`
	Filters    filter.Criteria `json:"filters"`
	RepoURL    string          `json:"repo_url"`
	MaxResults *int            `json:"max_results,omitempty"`
}

type filterResponse struct {
	CommitSHAs []string `json:"commit_shas"`
}

type chatRequest struct {
	Query       string   `json:"query"`
	ContextSHAs []string `json:"context_shas"`
}

type ChatResponse struct {
	Response     string          `json:"response"`
	CitedCommits []repo.Citation `json:"cited_commits"`
}

type commitResponse struct {
	Commit repo.Commit `json:"commit"`
}

type commitsResponse struct {
	Commits []repo.Commit `json:"commits"`
}

// GetRepo fetches a repository the backend has already ingested.
func (c *Client) GetRepo(ctx context.Context, owner, name string) (repo.Snapshot, error) {
	var snap repo.Snapshot
	if err := c.do(ctx, "repo", http.MethodGet, repoPath(owner, name), nil, &snap); err != nil {
		return repo.Snapshot{}, err
	}
	return sanitize(snap), nil
}

// Ingest asks the backend to clone and analyse url. It blocks until the
// backend answers.
func (c *Client) Ingest(ctx context.Context, repoURL string, maxCommits, contextLines int) (repo.Snapshot, error) {
	req := IngestRequest{URL: repoURL, MaxCommits: maxCommits, ContextLines: contextLines}
	var snap repo.Snapshot
	if err := c.do(ctx, "ingest", http.MethodPost, "/ingest", req, &snap); err != nil {
		return repo.Snapshot{}, err
	}
	return sanitize(snap), nil
}

// Filter runs a semantic search and returns the matching commit SHAs.
func (c *Client) Filter(ctx context.Context, req FilterRequest) ([]string, error) {
	var resp filterResponse
	if err := c.do(ctx, "filter", http.MethodPost, "/filter", req, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.CommitSHAs))
	for _, sha := range resp.CommitSHAs {
		if sha = strings.TrimSpace(sha); sha != "" {
			out = append(out, sha)
		}
	}
	return out, nil
}

func (c *Client) Chat(ctx context.Context, query string, contextSHAs []string) (ChatResponse, error) {
	if contextSHAs == nil {
		contextSHAs = []string{}
	}
	var resp ChatResponse
	if err := c.do(ctx, "chat", http.MethodPost, "/chat", chatRequest{Query: query, ContextSHAs: contextSHAs}, &resp); err != nil {
		return ChatResponse{}, err
	}
	resp.CitedCommits = repo.ValidCitations(resp.CitedCommits)
	return resp, nil
}

func (c *Client) SummarizeCommit(ctx context.Context, sha string) (string, error) {
	return c.text(ctx, "summarize_commit", "/summarize/commit/"+url.PathEscape(sha))
}

func (c *Client) SummarizeFileChange(ctx context.Context, id int64) (string, error) {
	return c.text(ctx, "summarize_file_change", "/summarize/file_change/"+strconv.FormatInt(id, 10))
}

func (c *Client) SummarizeHunk(ctx context.Context, id int64) (string, error) {
	return c.text(ctx, "summarize_hunk", "/summarize/hunk/"+strconv.FormatInt(id, 10))
}

func (c *Client) GetCommit(ctx context.Context, owner, name, sha string) (repo.Commit, error) {
	var resp commitResponse
	if err := c.do(ctx, "commit", http.MethodGet, repoPath(owner, name)+"/commit/"+url.PathEscape(sha), nil, &resp); err != nil {
		return repo.Commit{}, err
	}
	valid := repo.ValidCommits([]repo.Commit{resp.Commit})
	if len(valid) == 0 {
		return repo.Commit{}, fmt.Errorf("commit %s: invalid payload", sha)
	}
	return valid[0], nil
}

func (c *Client) GetCommits(ctx context.Context, owner, name string) ([]repo.Commit, error) {
	var resp commitsResponse
	if err := c.do(ctx, "commits", http.MethodGet, repoPath(owner, name)+"/commits", nil, &resp); err != nil {
		return nil, err
	}
	return repo.ValidCommits(resp.Commits), nil
}

func repoPath(owner, name string) string {
	return "/repo/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
}

func sanitize(snap repo.Snapshot) repo.Snapshot {
	snap.Commits = repo.ValidCommits(snap.Commits)
	snap.Branches = repo.ValidBranches(snap.Branches)
	if snap.Commits == nil {
		snap.Commits = []repo.Commit{}
	}
	if snap.Branches == nil {
		snap.Branches = []repo.Branch{}
	}
	return snap
}

// text fetches a plain text body. JSON encoded strings are unquoted.
func (c *Client) text(ctx context.Context, endpoint, path string) (string, error) {
	var raw []byte
	if err := c.do(ctx, endpoint, http.MethodGet, path, nil, &raw); err != nil {
		return "", err
	}
	body := bytes.TrimSpace(raw)
	if len(body) > 0 && body[0] == '"' {
		var s string
		if err := json.Unmarshal(body, &s); err == nil {
			return s, nil
		}
	}
	return string(body), nil
}

// do sends the request and decodes a JSON response into out. A *[]byte out
// receives the raw body.
func (c *Client) do(ctx context.Context, endpoint, method, path string, in, out any) (err error) {
	op := method + " " + path
	status := "ok"
	defer func() {
		switch {
		case errors.Is(err, ErrNotFound):
			status = "not_found"
		case err != nil:
			status = "error"
		}
		metrics.APIRequests.WithLabelValues(endpoint, status).Inc()
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &NetworkError{Op: op, Err: err}
		}
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	slog.Debug("api request", slog.String("method", method), slog.String("path", path))
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{Op: op, Status: resp.StatusCode, Err: errors.New(readErrorBody(resp.Body))}
	}

	if raw, ok := out.(*[]byte); ok {
		*raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return &NetworkError{Op: op, Status: resp.StatusCode, Err: err}
		}
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	buf, _ := io.ReadAll(io.LimitReader(r, 4096))
	var detail struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(buf, &detail) == nil {
		if detail.Detail != "" {
			return detail.Detail
		}
		if detail.Error != "" {
			return detail.Error
		}
	}
	if msg := strings.TrimSpace(string(buf)); msg != "" {
		return msg
	}
	return "unexpected response"
}
