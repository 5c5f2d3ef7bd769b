// Package gateway exposes the session store over HTTP and pushes snapshot
// updates over websockets.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/meetplay/lobby/internal/models"
	"github.com/meetplay/lobby/internal/session"
	"github.com/rs/zerolog/log"
)

// Service wires the session app to the HTTP API and the websocket fan-out.
type Service struct {
	app         *session.App
	connections *ConnectionManager
}

func NewService(app *session.App, connections *ConnectionManager) *Service {
	return &Service{app: app, connections: connections}
}

// RegisterRoutes attaches every API route to the mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/meetings", s.handleCreateMeeting)
	mux.HandleFunc("GET /api/meetings/{id}", s.handleGetMeeting)
	mux.HandleFunc("POST /api/meetings/{id}/participants", s.handleResolveParticipant)

	mux.HandleFunc("GET /api/sessions", s.handleGetActiveSession)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("PATCH /api/sessions/{id}/status", s.handleSetStatus)
	mux.HandleFunc("PATCH /api/sessions/{id}/activity", s.handleTouchActivity)
	mux.HandleFunc("POST /api/sessions/{id}/join", s.handleJoin)
	mux.HandleFunc("POST /api/sessions/{id}/leave", s.handleLeave)
	mux.HandleFunc("POST /api/sessions/{id}/early-start-vote", s.handleEarlyStartVote)
	mux.HandleFunc("GET /api/sessions/{id}/snapshot", s.handleSnapshot)

	mux.HandleFunc("GET /ws/sessions/{id}", s.handleWebsocket)

	mux.HandleFunc("GET /health", s.handleHealth)
}

type createMeetingRequest struct {
	TotalParticipants int `json:"total_participants"`
}

func (s *Service) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req createMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	meeting, err := s.app.CreateMeeting(r.Context(), req.TotalParticipants)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meeting)
}

func (s *Service) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	meeting, err := s.app.GetMeeting(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

type resolveParticipantRequest struct {
	ExternalUserID string `json:"external_user_id"`
	DisplayName    string `json:"display_name"`
}

func (s *Service) handleResolveParticipant(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req resolveParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participant, err := s.app.GetOrCreateParticipant(r.Context(), meetingID, req.ExternalUserID, req.DisplayName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

func (s *Service) handleGetActiveSession(w http.ResponseWriter, r *http.Request) {
	meetingID, err := uuid.Parse(r.URL.Query().Get("meeting_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid meeting_id")
		return
	}
	gameID := r.URL.Query().Get("game_id")
	if gameID == "" {
		writeError(w, http.StatusBadRequest, "game_id is required")
		return
	}

	sess, err := s.app.GetActiveSession(r.Context(), meetingID, gameID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type createSessionRequest struct {
	MeetingID uuid.UUID `json:"meeting_id"`
	GameID    string    `json:"game_id"`
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.app.CreateWaitingSession(r.Context(), req.MeetingID, req.GameID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type setStatusRequest struct {
	Status models.SessionStatus `json:"status"`
}

func (s *Service) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.app.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Service) handleTouchActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := s.app.TouchActivity(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type participantActionRequest struct {
	ParticipantID uuid.UUID `json:"participant_id"`
}

func (s *Service) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req participantActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.app.Join(r.Context(), id, req.ParticipantID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req participantActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.app.Leave(r.Context(), id, req.ParticipantID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type earlyStartVoteRequest struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Ready         bool      `json:"ready"`
}

func (s *Service) handleEarlyStartVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req earlyStartVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.app.SetReady(r.Context(), id, req.ParticipantID, req.Ready); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	snapshot, err := s.app.Snapshot(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	// Reject subscriptions to unknown sessions before the upgrade.
	if _, err := s.app.Snapshot(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}

	if err := s.connections.UpgradeConnection(w, r, id); err != nil {
		log.Error().Err(err).
			Str("session_id", id.String()).
			Msg("websocket upgrade failed")
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(key))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+key)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps the session package sentinels onto HTTP status codes.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrMeetingNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrParticipantNotFound),
		errors.Is(err, session.ErrNoActiveSession):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrSessionCompleted),
		errors.Is(err, session.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
