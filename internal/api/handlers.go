// Package api provides HTTP handlers for FollowPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/juliahq/followpipe/internal/followup"
	"github.com/juliahq/followpipe/internal/models"
)

func (s *Server) configsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.configsHandler: processing request", "method", r.Method, "path", r.URL.Path)

	switch r.Method {
	case http.MethodPost:
		s.saveConfig(w, r)
	case http.MethodGet:
		s.getConfigs(w, r)
	default:
		w.Header().Set("Allow", strings.Join([]string{http.MethodPost, http.MethodGet}, ", "))
		slog.Warn("Server.configsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) saveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.FollowupConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		slog.Warn("Server.saveConfig: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	// Validate before touching storage so client errors never reach the store.
	if err := cfg.Validate(); err != nil {
		slog.Warn("Server.saveConfig: validation failed", "error", err, "clientID", cfg.ClientID, "agentID", cfg.AgentID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	saved, err := s.configs.Save(cfg)
	if err != nil {
		slog.Error("Server.saveConfig: failed to save config", "error", err, "clientID", cfg.ClientID, "agentID", cfg.AgentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save followup config"))
		return
	}

	slog.Info("Server.saveConfig: config saved", "configID", saved.ID, "clientID", saved.ClientID, "agentID", saved.AgentID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Followup config saved", saved))
}

func (s *Server) getConfigs(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	agentID := r.URL.Query().Get("agent_id")

	// With both query params this is a point lookup; otherwise list everything.
	if clientID != "" && agentID != "" {
		cfg, err := s.configs.Get(clientID, agentID)
		if err != nil {
			slog.Error("Server.getConfigs: failed to fetch config", "error", err, "clientID", clientID, "agentID", agentID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch followup config"))
			return
		}
		if cfg == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Followup config not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(cfg))
		return
	}

	configs, err := s.configs.List()
	if err != nil {
		slog.Error("Server.getConfigs: failed to list configs", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list followup configs"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(configs))
}

func (s *Server) configByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.configByIDHandler: processing request", "method", r.Method, "path", r.URL.Path)

	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		slog.Warn("Server.configByIDHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/followup/configs/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing config ID"))
		return
	}

	if err := s.configs.Delete(id); err != nil {
		slog.Error("Server.configByIDHandler: failed to delete config", "error", err, "configID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete followup config"))
		return
	}

	slog.Info("Server.configByIDHandler: config deleted", "configID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Followup config deleted", nil))
}

func (s *Server) cleanupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.cleanupHandler: processing cleanup request", "method", r.Method)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.cleanupHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	result, err := s.sweeper.Run()
	if err != nil {
		slog.Error("Server.cleanupHandler: sweep failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Cleanup sweep failed"))
		return
	}

	slog.Info("Server.cleanupHandler: sweep complete", "expired", result.Expired, "deleted", result.Deleted)
	writeJSONResponse(w, http.StatusOK, newCleanupResponse(result))
}

func (s *Server) promoteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.promoteHandler: processing promote request", "method", r.Method)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.promoteHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	result, err := s.promoter.Run()
	if err != nil {
		slog.Error("Server.promoteHandler: promotion failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Promotion run failed"))
		return
	}

	slog.Info("Server.promoteHandler: promotion complete", "promoted", result.Promoted, "scheduled", result.Scheduled, "skipped", result.Skipped)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) agentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.agentsHandler: processing request", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/agents/")
	segments := strings.Split(path, "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] != "pause" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	agentID := segments[0]

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.agentsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.agentsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result, err := s.pause.SetPaused(agentID, req.Paused)
	if err != nil {
		if errors.Is(err, followup.ErrAgentNotFound) {
			slog.Warn("Server.agentsHandler: agent not found", "agentID", agentID)
			writeJSONResponse(w, http.StatusNotFound, models.Error("Agent not found"))
			return
		}
		slog.Error("Server.agentsHandler: failed to update pause state", "error", err, "agentID", agentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update pause state"))
		return
	}

	slog.Info("Server.agentsHandler: pause state updated", "agentID", agentID, "paused", result.Paused, "cancelled", result.Cancelled)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.historyHandler: processing request", "method", r.Method)

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.historyHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: conversation_id"))
		return
	}

	history, err := s.st.ListHistoryByConversation(conversationID)
	if err != nil {
		slog.Error("Server.historyHandler: failed to list history", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list followup history"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(history))
}

func (s *Server) executionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.executionsHandler: processing request", "method", r.Method)

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.executionsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: conversation_id"))
		return
	}

	executions, err := s.st.ListExecutionsByConversation(conversationID)
	if err != nil {
		slog.Error("Server.executionsHandler: failed to list executions", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list followup executions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(executions))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
