package dashboard

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/contacts"
	"github.com/relaybot/relaybot/pkg/logger"
)

// ChannelManager is the part of channels.Manager the dashboard needs.
type ChannelManager interface {
	GetStatus() map[string]interface{}
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// AgentInfo describes the running pipeline for the status endpoint.
type AgentInfo struct {
	Strategy  string `json:"strategy"`
	Namespace string `json:"namespace"`
}

type Server struct {
	config         config.DashboardConfig
	cfg            *config.Config
	cfgPath        string
	channelManager ChannelManager
	store          *contacts.Store
	msgBus         *bus.MessageBus
	agent          AgentInfo
	version        string
	hub            *Hub
	httpServer     *http.Server
	startTime      time.Time
}

func NewServer(
	fullCfg *config.Config,
	cfgPath string,
	channelManager ChannelManager,
	store *contacts.Store,
	msgBus *bus.MessageBus,
	agent AgentInfo,
	version string,
) *Server {
	return &Server{
		config:         fullCfg.Clone().Dashboard,
		cfg:            fullCfg,
		cfgPath:        cfgPath,
		channelManager: channelManager,
		store:          store,
		msgBus:         msgBus,
		agent:          agent,
		version:        version,
		hub:            NewHub(msgBus),
		startTime:      time.Now(),
	}
}

// Handler builds the routed, CORS-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/status", s.authMiddleware(s.handleStatus))
	mux.HandleFunc("/api/v1/channels", s.authMiddleware(s.handleChannels))
	mux.HandleFunc("/api/v1/contacts", s.authMiddleware(s.handleContacts))
	mux.HandleFunc("/api/v1/contacts/", s.authMiddleware(s.handleContactDetail))
	mux.HandleFunc("/api/v1/send", s.authMiddleware(s.handleSend))

	mux.HandleFunc("/api/v1/config", s.authMiddleware(s.handleGetConfig))
	mux.HandleFunc("/api/v1/config/inference", s.authMiddleware(s.handleInferenceConfig))
	mux.HandleFunc("/api/v1/config/storage/test", s.authMiddleware(s.handleTestStorageConnection))

	// WebSocket authenticates through the query string.
	mux.HandleFunc("/ws", s.handleWebSocket)

	return s.corsMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()
	go s.hub.Run(ctx)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		logger.InfoCF("dashboard", "Dashboard server started", map[string]interface{}{
			"address": addr,
		})
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("dashboard", "Dashboard server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
	logger.InfoC("dashboard", "Dashboard server stopped")
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.validToken(s.extractToken(r)) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) validToken(token string) bool {
	if s.config.Token == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Token)) == 1
}

// extractToken reads the bearer token, falling back to ?token= for WebSocket.
func (s *Server) extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
