package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/logger"
	"github.com/relaybot/relaybot/pkg/storage"
	"github.com/relaybot/relaybot/pkg/storage/repository"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    s.version,
		"uptime":     time.Since(s.startTime).String(),
		"strategy":   s.agent.Strategy,
		"namespace":  s.agent.Namespace,
		"contacts":   s.store.Count(),
		"channels":   s.channelManager.GetStatus(),
		"ws_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.channelManager.GetStatus())
}

// handleContacts lists records, optionally filtered by ?state=topic_a.
func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	records := s.store.List()
	if state, ok := r.URL.Query()["state"]; ok {
		want := repository.State(state[0])
		if !want.Valid() {
			writeError(w, http.StatusBadRequest, "unknown state")
			return
		}
		filtered := records[:0]
		for _, rec := range records {
			if rec.State == want {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	writeJSON(w, http.StatusOK, records)
}

// handleContactDetail serves /api/v1/contacts/{id} and /api/v1/contacts/{id}/reset.
func (s *Server) handleContactDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/api/v1/contacts/")
	reset := strings.HasSuffix(path, "/reset")
	path = strings.TrimSuffix(path, "/reset")

	contactID, err := url.PathUnescape(path)
	if err != nil || contactID == "" {
		writeError(w, http.StatusBadRequest, "contact id required")
		return
	}

	if reset {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.resetContact(w, r, contactID)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, ok := s.store.Get(contactID)
	if !ok {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) resetContact(w http.ResponseWriter, r *http.Request, contactID string) {
	var body struct {
		ClearHistory bool `json:"clear_history"`
		Rewelcome    bool `json:"rewelcome"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	unlock := s.store.Lock(contactID)
	defer unlock()

	rec, ok := s.store.Get(contactID)
	if !ok {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	rec.State = repository.StateNone
	if body.ClearHistory {
		rec.History = []repository.Turn{}
	}
	if body.Rewelcome {
		rec.LastWelcomeAt = 0
	}

	if err := s.store.Update(r.Context(), rec); err != nil {
		logger.ErrorCF("dashboard", "Failed to reset contact", map[string]interface{}{
			"contact_id": contactID,
			"error":      err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "failed to save contact record")
		return
	}
	s.msgBus.PublishRecord(bus.RecordEvent{
		ContactID: contactID,
		State:     string(rec.State),
		Reason:    "reset",
	})

	updated, _ := s.store.Get(contactID)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Channel string `json:"channel"`
		ChatID  string `json:"chat_id"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Channel == "" || body.ChatID == "" || body.Content == "" {
		writeError(w, http.StatusBadRequest, "channel, chat_id and content are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.channelManager.Send(ctx, bus.OutboundMessage{
		Channel: body.Channel,
		ChatID:  body.ChatID,
		Content: body.Content,
	}); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	redacted := s.cfg.RedactedClone()
	redacted.Storage.DatabaseURL = maskDatabaseURL(s.cfg.Clone().Storage.DatabaseURL)
	writeJSON(w, http.StatusOK, redacted)
}

// handleInferenceConfig reads or updates the model endpoint. Updates apply to
// the next inference call and are saved to the config file.
func (s *Server) handleInferenceConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		inf := s.cfg.InferenceSnapshot()
		inf.APIKey = config.MaskSecret(inf.APIKey)
		writeJSON(w, http.StatusOK, inf)

	case http.MethodPut:
		var body struct {
			Provider *string `json:"provider"`
			APIBase  *string `json:"api_base"`
			Endpoint *string `json:"endpoint"`
			Model    *string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		candidate := s.cfg.Clone()
		apply := func(inf *config.InferenceConfig) {
			if body.Provider != nil {
				inf.Provider = *body.Provider
			}
			if body.APIBase != nil {
				inf.APIBase = *body.APIBase
			}
			if body.Endpoint != nil {
				inf.Endpoint = *body.Endpoint
			}
			if body.Model != nil {
				inf.Model = *body.Model
			}
		}
		apply(&candidate.Inference)
		if err := candidate.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		s.cfg.UpdateInference(apply)
		if s.cfgPath != "" {
			if err := config.SaveInference(s.cfgPath, s.cfg.InferenceSnapshot()); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to save config: "+err.Error())
				return
			}
		}
		logger.InfoCF("dashboard", "Inference settings updated", map[string]interface{}{
			"provider": candidate.Inference.Provider,
			"model":    candidate.Inference.Model,
		})

		inf := s.cfg.InferenceSnapshot()
		inf.APIKey = config.MaskSecret(inf.APIKey)
		writeJSON(w, http.StatusOK, inf)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTestStorageConnection opens a throwaway connection to a candidate backend.
func (s *Server) handleTestStorageConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Type        string `json:"type"`
		DatabaseURL string `json:"database_url"`
		FilePath    string `json:"file_path"`
		SSLEnabled  bool   `json:"ssl_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	testStore, err := storage.NewStorage(storage.Config{
		Type:         body.Type,
		DatabaseURL:  body.DatabaseURL,
		FilePath:     body.FilePath,
		Namespace:    s.cfg.RecordNamespace(),
		SSLEnabled:   body.SSLEnabled,
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		MaxLifetime:  time.Minute,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	defer testStore.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := testStore.Connect(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Connection successful"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.validToken(r.URL.Query().Get("token")) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.hub.handleWebSocket(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// maskDatabaseURL hides the password of a postgres URL.
func maskDatabaseURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
