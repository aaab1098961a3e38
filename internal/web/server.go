package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"

	"github.com/bit2swaz/relaymesh/internal/relay"
	"github.com/bit2swaz/relaymesh/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMessageLimit = 50

// Engine is the slice of a mesh session the web API needs.
type Engine interface {
	Identity() string
	Peers() []store.PeerObservation
	Messages(limit int) ([]store.Message, error)
	CarriedCount() (int64, error)
	Send(ctx context.Context, recipientID, content, conversationID string) (string, error)
}

type Server struct {
	engine   Engine
	gatherer prometheus.Gatherer
	port     int
}

// NewServer builds the API server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(eng Engine, gatherer prometheus.Gatherer, port int) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		engine:   eng,
		gatherer: gatherer,
		port:     port,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/peers", s.handlePeers)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start serves the API until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	slog.Info("Web server starting", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		s.handlePostMessage(w, r)
		return
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	messages, err := s.engine.Messages(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, messages)
}

type sendRequest struct {
	RecipientID    string `json:"recipient_id"`
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RecipientID == "" {
		http.Error(w, "Recipient required", http.StatusBadRequest)
		return
	}

	id, err := s.engine.Send(r.Context(), req.RecipientID, req.Content, req.ConversationID)
	switch {
	case errors.Is(err, relay.ErrEmptyContent), errors.Is(err, relay.ErrNoRecipient):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Peers())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	peers := s.engine.Peers()
	inRange := 0
	for _, p := range peers {
		if p.InRange {
			inRange++
		}
	}
	carried, err := s.engine.CarriedCount()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":  s.engine.Identity(),
		"peers":    len(peers),
		"in_range": inRange,
		"carried":  carried,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// GetOutboundIP returns the address this machine uses for outbound traffic,
// falling back to loopback.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
