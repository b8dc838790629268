package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// TokenSource supplies installation access tokens. Implementations cache
// aggressively; Invalidate drops the cached token after a 401 so the
// next Token call fetches a fresh one.
type TokenSource interface {
	Token(ctx context.Context, installationID int64) (string, error)
	Invalidate(installationID int64)
}

// StaticTokenSource returns the same token for every installation.
// Used for personal access tokens and tests.
type StaticTokenSource string

// Token returns the static token.
func (s StaticTokenSource) Token(ctx context.Context, installationID int64) (string, error) {
	return string(s), nil
}

// Invalidate is a no-op for static tokens.
func (s StaticTokenSource) Invalidate(installationID int64) {}

// Client calls the GitHub REST API on behalf of one installation.
type Client struct {
	BaseURL        string
	HTTPClient     *http.Client
	Tokens         TokenSource
	InstallationID int64
}

// NewClient creates a client for the given installation.
func NewClient(tokens TokenSource, installationID int64) *Client {
	return &Client{
		BaseURL:        DefaultAPIEndpoint,
		HTTPClient:     &http.Client{Timeout: DefaultTimeout},
		Tokens:         tokens,
		InstallationID: installationID,
	}
}

// WithBaseURL returns a copy with a custom base URL (testing, GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := *c
	cp.BaseURL = baseURL
	return &cp
}

// WithHTTPClient returns a copy with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := *c
	cp.HTTPClient = httpClient
	return &cp
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}
	return u
}

// doRequest performs one authenticated request. A 401 invalidates the
// cached token and retries exactly once with a fresh one; every other
// non-2xx becomes an *APIError for the retry layer to classify.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, http.Header, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	refreshed := false
	for {
		token, err := c.Tokens.Token(ctx, c.InstallationID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to obtain token: %w", err)
		}

		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("request failed: %w", err)
		}

		const maxResponseSize = 50 * 1024 * 1024
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && !refreshed {
			refreshed = true
			c.Tokens.Invalidate(c.InstallationID)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    string(respBody),
				RetryHint:  parseRetryAfter(resp.Header),
			}
		}

		return respBody, resp.Header, nil
	}
}

// parseRetryAfter reads a Retry-After seconds value from headers.
func parseRetryAfter(headers http.Header) time.Duration {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextPage checks the Link header for a next page URL.
func nextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// CreateIssue creates an issue in the repository.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, req *IssueRequest) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+owner+"/"+repo+"/issues", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue in %s/%s: %w", owner, repo, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}
	return &issue, nil
}

// UpdateIssue applies a partial update to an issue. GitHub uses PATCH.
func (c *Client) UpdateIssue(ctx context.Context, owner, repo string, number int, updates map[string]interface{}) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+owner+"/"+repo+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPatch, urlStr, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to update issue #%d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}
	return &issue, nil
}

// GetIssue retrieves a single issue by number.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+owner+"/"+repo+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue #%d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse issue response: %w", err)
	}
	return &issue, nil
}

// ListIssues retrieves issues matching opts, following pagination.
// Pull requests are filtered out (the issues endpoint returns both).
func (c *Client) ListIssues(ctx context.Context, owner, repo string, opts ListOptions) ([]Issue, error) {
	state := opts.State
	if state == "" {
		state = "all"
	}
	params := map[string]string{
		"per_page": strconv.Itoa(MaxPageSize),
		"state":    state,
	}
	if !opts.Since.IsZero() {
		params["since"] = opts.Since.UTC().Format(time.RFC3339)
	}

	urlStr := c.buildURL("/repos/"+owner+"/"+repo+"/issues", params)
	var allIssues []Issue
	for page := 1; ; page++ {
		if page > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}

		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues in %s/%s: %w", owner, repo, err)
		}

		var issues []Issue
		if err := json.Unmarshal(respBody, &issues); err != nil {
			return nil, fmt.Errorf("failed to parse issues response: %w", err)
		}
		for i := range issues {
			if issues[i].PullRequest == nil {
				allIssues = append(allIssues, issues[i])
			}
		}

		next, ok := nextPage(headers)
		if !ok {
			break
		}
		urlStr = next
	}
	return allIssues, nil
}

// AddLabels appends labels to an issue.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	urlStr := c.buildURL("/repos/"+owner+"/"+repo+"/issues/"+strconv.Itoa(number)+"/labels", nil)
	_, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"labels": labels})
	if err != nil {
		return fmt.Errorf("failed to add labels to #%d: %w", number, err)
	}
	return nil
}

// RemoveLabel removes one label from an issue. A 404 for the label is
// not an error: the label is already gone.
func (c *Client) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	urlStr := c.buildURL("/repos/"+owner+"/"+repo+"/issues/"+strconv.Itoa(number)+"/labels/"+url.PathEscape(label), nil)
	_, _, err := c.doRequest(ctx, http.MethodDelete, urlStr, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to remove label %q from #%d: %w", label, number, err)
	}
	return nil
}

// CreateComment posts a comment on an issue or pull request.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	urlStr := c.buildURL("/repos/"+owner+"/"+repo+"/issues/"+strconv.Itoa(number)+"/comments", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]string{"body": body})
	if err != nil {
		return nil, fmt.Errorf("failed to comment on #%d: %w", number, err)
	}

	var comment Comment
	if err := json.Unmarshal(respBody, &comment); err != nil {
		return nil, fmt.Errorf("failed to parse comment response: %w", err)
	}
	return &comment, nil
}

// CreatePR opens a pull request from head into base.
func (c *Client) CreatePR(ctx context.Context, owner, repo string, req *PRRequest) (*PRResult, error) {
	urlStr := c.buildURL("/repos/"+owner+"/"+repo+"/pulls", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create PR for %s: %w", req.Head, err)
	}

	var result PRResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse PR response: %w", err)
	}
	return &result, nil
}

// MergePR merges a pull request.
func (c *Client) MergePR(ctx context.Context, owner, repo string, number int, commitMessage string) (*MergeResult, error) {
	urlStr := c.buildURL("/repos/"+owner+"/"+repo+"/pulls/"+strconv.Itoa(number)+"/merge", nil)
	payload := map[string]string{}
	if commitMessage != "" {
		payload["commit_message"] = commitMessage
	}
	respBody, _, err := c.doRequest(ctx, http.MethodPut, urlStr, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to merge PR #%d: %w", number, err)
	}

	var result MergeResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse merge response: %w", err)
	}
	return &result, nil
}
