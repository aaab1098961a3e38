package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bit2swaz/relaymesh/internal/relay"
	"github.com/bit2swaz/relaymesh/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// MockEngine implements the Engine interface for testing
type MockEngine struct {
	NodeID    string
	Stored    []store.Message
	Observed  []store.PeerObservation
	Carrying  int64
	LastTo    string
	LastBody  string
	SendError error
}

func (m *MockEngine) Identity() string { return m.NodeID }

func (m *MockEngine) Peers() []store.PeerObservation { return m.Observed }

func (m *MockEngine) Messages(limit int) ([]store.Message, error) {
	if limit < len(m.Stored) {
		return m.Stored[:limit], nil
	}
	return m.Stored, nil
}

func (m *MockEngine) CarriedCount() (int64, error) { return m.Carrying, nil }

func (m *MockEngine) Send(ctx context.Context, recipientID, content, conversationID string) (string, error) {
	if m.SendError != nil {
		return "", m.SendError
	}
	m.LastTo = recipientID
	m.LastBody = content
	return "msg-42", nil
}

func setupTestServer(t *testing.T) (http.Handler, *MockEngine) {
	mockEngine := &MockEngine{NodeID: "TEST_NODE_1"}
	server := NewServer(mockEngine, prometheus.NewRegistry(), 8080)
	return server.Handler(), mockEngine
}

func TestAPIMessages(t *testing.T) {
	handler, eng := setupTestServer(t)
	now := time.Now()
	// Stored newest first, served oldest first.
	eng.Stored = []store.Message{
		{ID: "msg2", SenderID: "peer1", Content: "Second", CreatedAt: now},
		{ID: "msg1", SenderID: "peer1", Content: "Hello World", CreatedAt: now.Add(-time.Minute)},
	}

	req := httptest.NewRequest("GET", "/api/messages", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var messages []store.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "Hello World" {
		t.Errorf("Expected content 'Hello World' first, got '%s'", messages[0].Content)
	}
}

func TestAPIMessagesRejectsBadLimit(t *testing.T) {
	handler, _ := setupTestServer(t)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/messages?limit=-3", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestPostMessage(t *testing.T) {
	handler, mockEngine := setupTestServer(t)

	body, _ := json.Marshal(map[string]string{
		"recipient_id": "peer-b",
		"content":      "Hello Web",
	})
	req := httptest.NewRequest("POST", "/api/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
	if mockEngine.LastTo != "peer-b" || mockEngine.LastBody != "Hello Web" {
		t.Errorf("Expected send to peer-b with 'Hello Web', got %q %q", mockEngine.LastTo, mockEngine.LastBody)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["id"] != "msg-42" {
		t.Errorf("Expected id msg-42, got %q", resp["id"])
	}
}

func TestPostMessageRejectsEmptyContent(t *testing.T) {
	handler, mockEngine := setupTestServer(t)
	mockEngine.SendError = relay.ErrEmptyContent

	req := httptest.NewRequest("POST", "/api/messages", strings.NewReader(`{"recipient_id":"peer-b","content":"  "}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/messages", strings.NewReader(`{"content":"hi"}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without recipient, got %d", w.Code)
	}
}

func TestStatusAndPeers(t *testing.T) {
	handler, eng := setupTestServer(t)
	eng.Carrying = 2
	eng.Observed = []store.PeerObservation{
		{PeerID: "p1", SignalQuality: 70, InRange: true},
		{PeerID: "p2", SignalQuality: 10},
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))
	var status map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if status["node_id"] != "TEST_NODE_1" {
		t.Errorf("Expected node_id TEST_NODE_1, got %v", status["node_id"])
	}
	if status["peers"] != float64(2) || status["in_range"] != float64(1) || status["carried"] != float64(2) {
		t.Errorf("Unexpected status: %v", status)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/peers", nil))
	var peers []store.PeerObservation
	json.NewDecoder(w.Body).Decode(&peers)
	if len(peers) != 2 || peers[0].PeerID != "p1" {
		t.Errorf("Expected peers in table order, got %+v", peers)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "relaymesh_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	handler := NewServer(&MockEngine{}, reg, 0).Handler()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), "relaymesh_test_total 1") {
		t.Errorf("Expected counter in metrics output, got %s", w.Body.String())
	}
}
