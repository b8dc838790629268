// Package webhook exposes the HTTP endpoint that receives GitHub
// webhook deliveries and hands them to the sync engine.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/dot-do/todo/internal/log"
	"github.com/dot-do/todo/internal/sync"
)

// maxBodySize bounds webhook request bodies (10MB).
const maxBodySize = 10 << 20

// Dispatcher routes a validated delivery to the sync engine for the
// repository named in the payload.
type Dispatcher func(ctx context.Context, owner, repo string, installationID int64, ev *sync.WebhookEvent) (*sync.Result, error)

// DeliveryRecord is one processed delivery, kept for the status endpoint.
type DeliveryRecord struct {
	DeliveryID string       `json:"delivery_id"`
	Event      string       `json:"event"`
	Action     string       `json:"action,omitempty"`
	Repo       string       `json:"repo,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
	Result     *sync.Result `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Secret   string // HMAC secret for signature validation
	Dispatch Dispatcher
	Logger   *slog.Logger
}

// Server validates and dispatches webhook deliveries. After a delivery
// authenticates, downstream processing errors never change the HTTP
// status: they are recorded and exposed via /status.
type Server struct {
	secret     []byte
	dispatch   Dispatcher
	logger     *slog.Logger
	mux        *http.ServeMux
	httpServer *http.Server

	mu      gosync.Mutex
	recent  []DeliveryRecord
	maxKeep int
}

// NewServer creates a new webhook server. An empty secret rejects every
// delivery.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		secret:   []byte(cfg.Secret),
		dispatch: cfg.Dispatch,
		logger:   log.WithComponent(logger, "webhook"),
		mux:      http.NewServeMux(),
		maxKeep:  100,
	}

	s.mux.HandleFunc("/webhook", s.handleDelivery)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// payloadEnvelope is the routing subset present in every event payload.
type payloadEnvelope struct {
	Action     string `json:"action"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

// handleDelivery handles POST /webhook.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed: use POST", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if !s.validSignature(r.Header.Get("X-Hub-Signature-256"), body) {
		s.logger.Warn("rejected delivery with invalid signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if event == "" || deliveryID == "" {
		http.Error(w, "missing event or delivery header", http.StatusBadRequest)
		return
	}

	var envelope payloadEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	record := DeliveryRecord{
		DeliveryID: deliveryID,
		Event:      event,
		Action:     envelope.Action,
		Repo:       envelope.Repository.Owner.Login + "/" + envelope.Repository.Name,
		ReceivedAt: time.Now().UTC(),
	}

	result, err := s.dispatch(r.Context(), envelope.Repository.Owner.Login, envelope.Repository.Name,
		envelope.Installation.ID, &sync.WebhookEvent{
			Kind:       event,
			Action:     envelope.Action,
			DeliveryID: deliveryID,
			Payload:    body,
		})
	if err != nil {
		record.Error = err.Error()
		s.logger.Error("delivery processing failed",
			log.DeliveryKey, deliveryID, "event", event, log.Error(err))
	} else {
		record.Result = result
	}
	s.remember(record)

	// GitHub retries non-2xx responses; once authenticated the delivery
	// is acknowledged regardless of processing outcome.
	if result == nil {
		result = &sync.Result{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// handleStatus handles GET /status with the recent delivery log.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	recent := make([]DeliveryRecord, len(s.recent))
	copy(recent, s.recent)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"deliveries": recent,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// validSignature checks the sha256=<hex> header against
// HMAC-SHA256(secret, body) in constant time.
func (s *Server) validSignature(header string, body []byte) bool {
	if len(s.secret) == 0 {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the signature header value for a body. Used by tests
// and local delivery tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) remember(record DeliveryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, record)
	if len(s.recent) > s.maxKeep {
		s.recent = s.recent[len(s.recent)-s.maxKeep:]
	}
}
