// Package github provides a client and data types for the GitHub REST API.
package github

import (
	"fmt"
	"time"
)

// API defaults.
const (
	DefaultAPIEndpoint = "https://api.github.com"
	DefaultTimeout     = 30 * time.Second
	MaxPageSize        = 100
	MaxPages           = 100
)

// Issue is the GitHub REST representation of an issue.
type Issue struct {
	Number      int          `json:"number"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	State       string       `json:"state"` // open | closed
	HTMLURL     string       `json:"html_url"`
	Labels      []Label      `json:"labels"`
	Assignee    *User        `json:"assignee,omitempty"`
	Assignees   []User       `json:"assignees,omitempty"`
	CreatedAt   *time.Time   `json:"created_at,omitempty"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
	PullRequest *PullRequest `json:"pull_request,omitempty"`
}

// Label is a GitHub issue label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// LabelNames extracts the names from a label list.
func LabelNames(labels []Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names
}

// AssigneeLogins extracts the logins from an issue's assignees.
func (i *Issue) AssigneeLogins() []string {
	logins := make([]string, 0, len(i.Assignees))
	for _, u := range i.Assignees {
		logins = append(logins, u.Login)
	}
	if len(logins) == 0 && i.Assignee != nil {
		logins = append(logins, i.Assignee.Login)
	}
	return logins
}

// User is a GitHub account reference.
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id,omitempty"`
}

// PullRequest marks an issue as a pull request. The issues endpoint
// returns PRs interleaved with issues; its presence is the filter.
type PullRequest struct {
	URL     string `json:"url,omitempty"`
	HTMLURL string `json:"html_url,omitempty"`
}

// PRRequest is the payload for opening a pull request.
type PRRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// PRResult is the subset of the pull request response the workflow uses.
type PRResult struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

// Comment is a GitHub issue comment.
type Comment struct {
	ID        int64      `json:"id"`
	Body      string     `json:"body"`
	HTMLURL   string     `json:"html_url,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// MergeResult is the response from merging a pull request.
type MergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// IssueRequest is the payload for creating an issue.
type IssueRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels"`
	Assignees []string `json:"assignees"`
}

// ListOptions filters issue listing.
type ListOptions struct {
	State string    // open | closed | all; empty means all
	Since time.Time // only issues updated at or after this time
}

// APIError is a non-2xx response from the GitHub API. It carries the
// status and any Retry-After hint so the retry layer can classify it.
type APIError struct {
	StatusCode int
	Message    string
	RetryHint  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s (status %d)", e.Message, e.StatusCode)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// RetryAfter returns the server's Retry-After hint, zero if absent.
func (e *APIError) RetryAfter() time.Duration { return e.RetryHint }
