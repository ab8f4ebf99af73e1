// Package api provides HTTP handlers for funnel and conversation endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/MichaelRobotics/Hustler-sub011/internal/funnel"
	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
)

// saveFunnelHandler handles POST /funnels
func (s *Server) saveFunnelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.saveFunnelHandler: processing request", "method", r.Method, "path", r.URL.Path)

	var graph models.FunnelGraph
	if err := json.NewDecoder(r.Body).Decode(&graph); err != nil {
		slog.Warn("Server.saveFunnelHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if graph.ID == "" || graph.ExperienceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Funnel id and experience_id are required"))
		return
	}
	if err := graph.Validate(); err != nil {
		slog.Warn("Server.saveFunnelHandler: validation failed", "error", err, "funnelID", graph.ID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.st.SaveFunnel(graph); err != nil {
		slog.Error("Server.saveFunnelHandler: failed to save funnel", "error", err, "funnelID", graph.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save funnel"))
		return
	}

	slog.Info("Server.saveFunnelHandler: funnel saved", "funnelID", graph.ID, "experienceID", graph.ExperienceID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Funnel saved", map[string]string{"id": graph.ID}))
}

// getFunnelHandler handles GET /funnels/{id}
func (s *Server) getFunnelHandler(w http.ResponseWriter, r *http.Request) {
	funnelID := r.PathValue("id")
	experienceID := r.URL.Query().Get("experience_id")
	if experienceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("experience_id query parameter is required"))
		return
	}

	graph, err := s.st.GetFunnel(funnelID, experienceID)
	if err != nil {
		slog.Error("Server.getFunnelHandler: lookup failed", "error", err, "funnelID", funnelID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load funnel"))
		return
	}
	if graph == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Funnel not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(graph))
}

// startConversationRequest is the body for POST /conversations.
type startConversationRequest struct {
	ExperienceID   string `json:"experience_id"`
	FunnelID       string `json:"funnel_id"`
	ExternalUserID string `json:"external_user_id"`
}

// startConversationHandler handles POST /conversations
func (s *Server) startConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startConversationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ExperienceID == "" || req.FunnelID == "" || req.ExternalUserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("experience_id, funnel_id and external_user_id are required"))
		return
	}

	conv, welcome, err := s.engine.StartConversation(r.Context(), req.ExperienceID, req.FunnelID, req.ExternalUserID)
	if err != nil {
		slog.Error("Server.startConversationHandler: start failed", "error", err, "funnelID", req.FunnelID)
		writeJSONResponse(w, statusForError(err), models.Error("Failed to start conversation"))
		return
	}

	slog.Info("Server.startConversationHandler: conversation started", "conversationID", conv.ID)
	writeJSONResponse(w, http.StatusCreated, models.Success(map[string]interface{}{
		"conversation": conv,
		"bot_message":  welcome,
	}))
}

// getConversationHandler handles GET /conversations/{id}
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	experienceID := r.URL.Query().Get("experience_id")
	if experienceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("experience_id query parameter is required"))
		return
	}

	conv, err := s.st.GetConversation(conversationID, experienceID)
	if err != nil {
		slog.Error("Server.getConversationHandler: lookup failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// processMessageRequest is the body for POST /conversations/{id}/messages.
type processMessageRequest struct {
	ExperienceID string `json:"experience_id"`
	Text         string `json:"text"`
}

// processMessageHandler handles POST /conversations/{id}/messages
func (s *Server) processMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	conversationID := r.PathValue("id")

	var req processMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.processMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ExperienceID == "" || req.Text == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("experience_id and text are required"))
		return
	}

	out, err := s.engine.ProcessMessage(r.Context(), conversationID, req.ExperienceID, req.Text)
	if err != nil {
		slog.Error("Server.processMessageHandler: processing failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, statusForError(err), models.Error("Failed to process message"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

// listMessagesHandler handles GET /conversations/{id}/messages
func (s *Server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	experienceID := r.URL.Query().Get("experience_id")
	if experienceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("experience_id query parameter is required"))
		return
	}

	// tenant check before exposing the log
	conv, err := s.st.GetConversation(conversationID, experienceID)
	if err != nil {
		slog.Error("Server.listMessagesHandler: lookup failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	msgs, err := s.st.GetMessages(conversationID)
	if err != nil {
		slog.Error("Server.listMessagesHandler: failed to load messages", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

// navigateRequest is the body for POST /conversations/{id}/navigate.
type navigateRequest struct {
	ExperienceID string `json:"experience_id"`
	NextBlockID  string `json:"next_block_id"`
}

// navigateHandler handles POST /conversations/{id}/navigate
func (s *Server) navigateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	conversationID := r.PathValue("id")

	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ExperienceID == "" || req.NextBlockID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("experience_id and next_block_id are required"))
		return
	}

	out, err := s.engine.NavigateToNextBlock(r.Context(), conversationID, req.ExperienceID, req.NextBlockID)
	if err != nil {
		slog.Error("Server.navigateHandler: navigation failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, statusForError(err), models.Error("Failed to navigate"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

// transitionRequest is the body for POST /conversations/{id}/transition.
// When MessageTemplate is set the transition message is also delivered to the
// external user.
type transitionRequest struct {
	ExperienceID    string `json:"experience_id"`
	Stage           string `json:"stage"`
	MessageTemplate string `json:"message_template,omitempty"`
}

// transitionHandler handles POST /conversations/{id}/transition
func (s *Server) transitionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	conversationID := r.PathValue("id")

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ExperienceID == "" || req.Stage == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("experience_id and stage are required"))
		return
	}

	var out *funnel.Outcome
	var err error
	if req.MessageTemplate != "" {
		out, err = s.engine.CompleteTransition(r.Context(), conversationID, req.ExperienceID, models.StageName(req.Stage), req.MessageTemplate)
	} else {
		out, err = s.engine.TransitionToStage(r.Context(), conversationID, req.ExperienceID, models.StageName(req.Stage))
	}
	if err != nil {
		slog.Error("Server.transitionHandler: transition failed", "error", err, "conversationID", conversationID, "stage", req.Stage)
		status := statusForError(err)
		// a delivery failure still moved the conversation; report both
		if out != nil && status == http.StatusBadGateway {
			writeJSONResponse(w, status, models.APIResponse{
				Status:  string(models.APIStatusError),
				Message: "Transition committed but message delivery failed",
				Result:  out,
			})
			return
		}
		writeJSONResponse(w, status, models.Error("Failed to transition"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

// closeConversationHandler handles POST /conversations/{id}/close
func (s *Server) closeConversationHandler(w http.ResponseWriter, r *http.Request) {
	s.updateStatusHandler(w, r, models.ConversationStatusClosed)
}

// abandonConversationHandler handles POST /conversations/{id}/abandon
func (s *Server) abandonConversationHandler(w http.ResponseWriter, r *http.Request) {
	s.updateStatusHandler(w, r, models.ConversationStatusAbandoned)
}

type statusRequest struct {
	ExperienceID string `json:"experience_id"`
}

func (s *Server) updateStatusHandler(w http.ResponseWriter, r *http.Request, status models.ConversationStatus) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	conversationID := r.PathValue("id")

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ExperienceID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("experience_id is required"))
		return
	}

	var err error
	if status == models.ConversationStatusClosed {
		err = s.engine.Close(r.Context(), conversationID, req.ExperienceID)
	} else {
		err = s.engine.Abandon(r.Context(), conversationID, req.ExperienceID)
	}
	if err != nil {
		slog.Error("Server.updateStatusHandler: status update failed", "error", err, "conversationID", conversationID, "status", status)
		writeJSONResponse(w, statusForError(err), models.Error("Failed to update conversation status"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation "+string(status), nil))
}
