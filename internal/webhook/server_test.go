package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dot-do/todo/internal/sync"
)

const testSecret = "hook-secret"

type dispatchCall struct {
	owner          string
	repo           string
	installationID int64
	ev             *sync.WebhookEvent
}

func newTestServer(t *testing.T, result *sync.Result, dispatchErr error) (*Server, *[]dispatchCall) {
	t.Helper()
	var calls []dispatchCall
	s := NewServer(ServerConfig{
		Secret: testSecret,
		Dispatch: func(ctx context.Context, owner, repo string, installationID int64, ev *sync.WebhookEvent) (*sync.Result, error) {
			calls = append(calls, dispatchCall{owner, repo, installationID, ev})
			return result, dispatchErr
		},
	})
	return s, &calls
}

func deliver(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

const issuesBody = `{
	"action": "opened",
	"issue": {"number": 7, "title": "Crash on save", "state": "open"},
	"repository": {"name": "widgets", "owner": {"login": "acme"}},
	"installation": {"id": 321}
}`

func TestValidDeliveryDispatches(t *testing.T) {
	s, calls := newTestServer(t, &sync.Result{Created: []string{"td-1"}}, nil)

	w := deliver(t, s, issuesBody, map[string]string{
		"X-GitHub-Event":      "issues",
		"X-GitHub-Delivery":   "d-1",
		"X-Hub-Signature-256": Sign(testSecret, []byte(issuesBody)),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(*calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(*calls))
	}
	call := (*calls)[0]
	if call.owner != "acme" || call.repo != "widgets" {
		t.Errorf("routed to %s/%s, want acme/widgets", call.owner, call.repo)
	}
	if call.installationID != 321 {
		t.Errorf("installationID = %d, want 321", call.installationID)
	}
	if call.ev.Kind != "issues" || call.ev.Action != "opened" || call.ev.DeliveryID != "d-1" {
		t.Errorf("event = %+v, want issues/opened/d-1", call.ev)
	}

	var result sync.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(result.Created) != 1 || result.Created[0] != "td-1" {
		t.Errorf("Created = %v, want [td-1]", result.Created)
	}
}

func TestInvalidSignatureRejected(t *testing.T) {
	s, calls := newTestServer(t, &sync.Result{}, nil)

	w := deliver(t, s, issuesBody, map[string]string{
		"X-GitHub-Event":      "issues",
		"X-GitHub-Delivery":   "d-1",
		"X-Hub-Signature-256": Sign("wrong-secret", []byte(issuesBody)),
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if len(*calls) != 0 {
		t.Errorf("dispatch calls = %d, want 0", len(*calls))
	}
}

func TestMissingSignatureRejected(t *testing.T) {
	s, calls := newTestServer(t, &sync.Result{}, nil)

	w := deliver(t, s, issuesBody, map[string]string{
		"X-GitHub-Event":    "issues",
		"X-GitHub-Delivery": "d-1",
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if len(*calls) != 0 {
		t.Errorf("dispatch calls = %d, want 0", len(*calls))
	}
}

func TestMissingHeadersRejected(t *testing.T) {
	s, _ := newTestServer(t, &sync.Result{}, nil)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"no event", map[string]string{
			"X-GitHub-Delivery":   "d-1",
			"X-Hub-Signature-256": Sign(testSecret, []byte(issuesBody)),
		}},
		{"no delivery", map[string]string{
			"X-GitHub-Event":      "issues",
			"X-Hub-Signature-256": Sign(testSecret, []byte(issuesBody)),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := deliver(t, s, issuesBody, tt.headers)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestDispatchErrorStillAcknowledged(t *testing.T) {
	s, calls := newTestServer(t, nil, errors.New("store unavailable"))

	w := deliver(t, s, issuesBody, map[string]string{
		"X-GitHub-Event":      "issues",
		"X-GitHub-Delivery":   "d-err",
		"X-Hub-Signature-256": Sign(testSecret, []byte(issuesBody)),
	})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(*calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(*calls))
	}

	// The failure surfaces through /status instead of the response code.
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	sw := httptest.NewRecorder()
	s.Handler().ServeHTTP(sw, req)

	var status struct {
		Deliveries []DeliveryRecord `json:"deliveries"`
	}
	if err := json.Unmarshal(sw.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if len(status.Deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(status.Deliveries))
	}
	if status.Deliveries[0].Error != "store unavailable" {
		t.Errorf("recorded error = %q, want %q", status.Deliveries[0].Error, "store unavailable")
	}
}

func TestNonPostRejected(t *testing.T) {
	s, _ := newTestServer(t, &sync.Result{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestEmptySecretRejectsEverything(t *testing.T) {
	s := NewServer(ServerConfig{
		Secret: "",
		Dispatch: func(ctx context.Context, owner, repo string, installationID int64, ev *sync.WebhookEvent) (*sync.Result, error) {
			t.Fatal("dispatch should not be called")
			return nil, nil
		},
	})

	w := deliver(t, s, issuesBody, map[string]string{
		"X-GitHub-Event":      "issues",
		"X-GitHub-Delivery":   "d-1",
		"X-Hub-Signature-256": Sign("", []byte(issuesBody)),
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
