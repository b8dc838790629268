package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(server *httptest.Server) *Client {
	return NewClient(StaticTokenSource("test-token"), 1).
		WithBaseURL(server.URL).
		WithHTTPClient(server.Client())
}

func TestCreateIssue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/repos/acme/widgets/issues" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}

		var req IssueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Title != "Fix auth" {
			t.Errorf("title = %q, want Fix auth", req.Title)
		}

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 42, "html_url": "https://github.com/acme/widgets/issues/42", "state": "open"}`)
	}))
	defer server.Close()

	issue, err := testClient(server).CreateIssue(context.Background(), "acme", "widgets", &IssueRequest{
		Title:  "Fix auth",
		Labels: []string{"bug", "P1"},
	})
	if err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if issue.Number != 42 {
		t.Errorf("Number = %d, want 42", issue.Number)
	}
}

func TestListIssuesPaginationAndPRFilter(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s%s?page=2>; rel="next"`, server.URL, r.URL.Path))
			fmt.Fprint(w, `[{"number": 1, "title": "one", "state": "open"},
				{"number": 2, "title": "a pr", "state": "open", "pull_request": {"url": "x"}}]`)
		default:
			fmt.Fprint(w, `[{"number": 3, "title": "three", "state": "closed"}]`)
		}
	}))
	defer server.Close()

	issues, err := testClient(server).ListIssues(context.Background(), "acme", "widgets", ListOptions{})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2 (PR filtered)", len(issues))
	}
	if issues[0].Number != 1 || issues[1].Number != 3 {
		t.Errorf("numbers = %d, %d, want 1, 3", issues[0].Number, issues[1].Number)
	}
}

// invalidatingSource counts refreshes triggered by Invalidate.
type invalidatingSource struct {
	invalidations atomic.Int32
}

func (s *invalidatingSource) Token(ctx context.Context, installationID int64) (string, error) {
	if s.invalidations.Load() > 0 {
		return "fresh-token", nil
	}
	return "stale-token", nil
}

func (s *invalidatingSource) Invalidate(installationID int64) {
	s.invalidations.Add(1)
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer stale-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"number": 7, "state": "open"}`)
	}))
	defer server.Close()

	source := &invalidatingSource{}
	client := NewClient(source, 1).WithBaseURL(server.URL).WithHTTPClient(server.Client())
	issue, err := client.GetIssue(context.Background(), "acme", "widgets", 7)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if issue.Number != 7 {
		t.Errorf("Number = %d, want 7", issue.Number)
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2 (401 then refreshed retry)", calls.Load())
	}
	if source.invalidations.Load() != 1 {
		t.Errorf("invalidations = %d, want 1", source.invalidations.Load())
	}
}

func TestUnauthorizedTwiceSurfacesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := testClient(server).GetIssue(context.Background(), "acme", "widgets", 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
}

func TestAPIErrorCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := testClient(server).GetIssue(context.Background(), "acme", "widgets", 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.HTTPStatus() != 429 {
		t.Errorf("HTTPStatus = %d, want 429", apiErr.HTTPStatus())
	}
	if apiErr.RetryAfter() != 17*time.Second {
		t.Errorf("RetryAfter = %v, want 17s", apiErr.RetryAfter())
	}
}

func TestRemoveLabelIgnoresNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := testClient(server).RemoveLabel(context.Background(), "acme", "widgets", 1, "gone"); err != nil {
		t.Errorf("RemoveLabel returned %v, want nil for 404", err)
	}
}

func TestMergePR(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if r.URL.Path != "/repos/acme/widgets/pulls/5/merge" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"sha": "abc123", "merged": true, "message": "Pull Request successfully merged"}`)
	}))
	defer server.Close()

	result, err := testClient(server).MergePR(context.Background(), "acme", "widgets", 5, "")
	if err != nil {
		t.Fatalf("MergePR failed: %v", err)
	}
	if !result.Merged {
		t.Error("Merged = false, want true")
	}
}

func testPrivateKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func TestAppTokenSourceCachesUntilInvalidated(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/app/installations/99/access_tokens" {
			t.Errorf("path = %s", r.URL.Path)
		}
		n := fetches.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token": "inst-token-%d", "expires_at": %q}`,
			n, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	}))
	defer server.Close()

	source, err := NewAppTokenSource("12345", testPrivateKeyPEM(t))
	if err != nil {
		t.Fatalf("NewAppTokenSource failed: %v", err)
	}
	source.WithBaseURL(server.URL).WithHTTPClient(server.Client())

	ctx := context.Background()
	first, err := source.Token(ctx, 99)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	second, err := source.Token(ctx, 99)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if first != second {
		t.Errorf("cached token changed: %q vs %q", first, second)
	}
	if fetches.Load() != 1 {
		t.Errorf("fetches = %d, want 1", fetches.Load())
	}

	source.Invalidate(99)
	third, err := source.Token(ctx, 99)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if third == first {
		t.Error("token unchanged after Invalidate")
	}
	if fetches.Load() != 2 {
		t.Errorf("fetches = %d, want 2", fetches.Load())
	}
}
