package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/kyra-ai/kyra/internal/observability"
	"github.com/kyra-ai/kyra/pkg/agent"
	"github.com/kyra-ai/kyra/pkg/governor"
)

// StatusSource supplies the governor snapshot served on /status.
type StatusSource interface {
	Snapshot() governor.Snapshot
}

// AgentLister supplies live agent hierarchy status served on /status.
type AgentLister interface {
	List() []agent.Status
}

// Server streams governor and agent lifecycle events to authenticated
// websocket clients and serves the status and metrics HTTP endpoints.
type Server struct {
	host         string
	port         int
	sharedSecret string
	server       *http.Server
	upgrader     websocket.Upgrader
	clients      *ClientRegistry
	auth         *authenticator
	broadcaster  *EventBroadcaster
	statusSource StatusSource
	agents       AgentLister
	logger       zerolog.Logger

	shutdownMu     sync.RWMutex
	isShuttingDown bool
}

// Config holds server configuration. Clients and Broadcaster may be
// pre-built so the broadcaster can be wired into an audit sink before the
// server's status sources exist; when nil they are created internally.
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	StatusSource StatusSource
	Agents       AgentLister
	Clients      *ClientRegistry
	Broadcaster  *EventBroadcaster
	Logger       zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.StatusSource == nil {
		return nil, fmt.Errorf("status source is required")
	}

	clients := cfg.Clients
	if clients == nil {
		clients = NewClientRegistry()
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = NewEventBroadcaster(clients, cfg.Logger)
	}

	s := &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		clients:      clients,
		auth:         newAuthenticator(cfg.SharedSecret),
		broadcaster:  broadcaster,
		statusSource: cfg.StatusSource,
		agents:       cfg.Agents,
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	return s, nil
}

// Broadcaster returns the event broadcaster for sink wiring
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// Start starts the gateway server
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port)),
		Handler: mux,
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully stops the gateway server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	s.broadcaster.Broadcast(StreamLifecycle, "server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// handleStatus serves the governor snapshot plus live agent hierarchy
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if secret := r.Header.Get("X-Kyra-Secret"); secret != s.sharedSecret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	status := map[string]interface{}{
		"governor": s.statusSource.Snapshot(),
		"clients":  s.clients.Infos(),
	}
	if s.agents != nil {
		status["agents"] = s.agents.List()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode status response")
	}
}

// handleWebSocket handles websocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
		State:        StateConnecting,
	}

	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := s.sendAuthChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send auth challenge")
		conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.handleClient(client)
}

// sendAuthChallenge sends an authentication challenge to a client
func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.auth.challenge()
	if err != nil {
		return err
	}

	client.Challenge = challenge
	client.State = StateAuthenticating

	return client.Conn.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

// handleClient reads messages from a client until the connection drops.
// The stream is one-way after authentication; anything else is rejected.
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			break
		}

		s.clients.UpdateActivity(client.ID)

		var authResp AuthResponse
		if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
			s.handleAuthMessage(client, authResp)
			continue
		}

		if !client.Authenticated {
			_ = client.Conn.WriteJSON(AuthResult{
				Event:   "auth.failure",
				Message: "authentication required",
			})
			continue
		}
	}
}

// handleAuthMessage processes an auth response and closes on lockout
func (s *Server) handleAuthMessage(client *Client, resp AuthResponse) {
	result := s.auth.authenticate(client, resp.Signature)

	if err := client.Conn.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return
	}

	if result.Success {
		s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		return
	}

	s.logger.Warn().
		Str("clientId", client.ID).
		Str("reason", result.Message).
		Msg("Authentication failed")

	if result.Locked {
		client.Conn.Close()
	}
}
