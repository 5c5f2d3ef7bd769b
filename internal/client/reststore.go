package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/meetplay/lobby/internal/models"
	"github.com/meetplay/lobby/internal/session"
)

// RESTStore implements Store against the gateway's HTTP API, for controllers
// running outside the server process.
type RESTStore struct {
	baseURL string
	client  *http.Client
}

var _ Store = (*RESTStore)(nil)

// NewRESTStore creates a store client for a gateway base URL such as
// "http://localhost:8080".
func NewRESTStore(baseURL string) *RESTStore {
	return &RESTStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *RESTStore) GetActiveSession(ctx context.Context, meetingID uuid.UUID, gameID string) (*models.Session, error) {
	query := url.Values{}
	query.Set("meeting_id", meetingID.String())
	query.Set("game_id", gameID)

	var sess models.Session
	err := s.do(ctx, http.MethodGet, "/api/sessions?"+query.Encode(), nil, &sess)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, session.ErrNoActiveSession
		}
		return nil, err
	}
	return &sess, nil
}

func (s *RESTStore) CreateWaitingSession(ctx context.Context, meetingID uuid.UUID, gameID string) (*models.Session, error) {
	body := map[string]any{
		"meeting_id": meetingID,
		"game_id":    gameID,
	}
	var sess models.Session
	if err := s.do(ctx, http.MethodPost, "/api/sessions", body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RESTStore) SetStatus(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) (*models.Session, error) {
	body := map[string]any{"status": status}
	var sess models.Session
	err := s.do(ctx, http.MethodPatch, "/api/sessions/"+sessionID.String()+"/status", body, &sess)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, session.ErrSessionNotFound
		}
		if isStatus(err, http.StatusConflict) {
			return nil, session.ErrInvalidTransition
		}
		return nil, err
	}
	return &sess, nil
}

func (s *RESTStore) TouchActivity(ctx context.Context, sessionID uuid.UUID) error {
	err := s.do(ctx, http.MethodPatch, "/api/sessions/"+sessionID.String()+"/activity", nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return session.ErrSessionNotFound
	}
	return err
}

func (s *RESTStore) GetOrCreateParticipant(ctx context.Context, meetingID uuid.UUID, externalUserID, displayName string) (*models.Participant, error) {
	body := map[string]any{
		"external_user_id": externalUserID,
		"display_name":     displayName,
	}
	var p models.Participant
	err := s.do(ctx, http.MethodPost, "/api/meetings/"+meetingID.String()+"/participants", body, &p)
	if err != nil {
		if isStatus(err, http.StatusBadRequest) {
			return nil, session.ErrInvalidIdentity
		}
		return nil, err
	}
	return &p, nil
}

func (s *RESTStore) Join(ctx context.Context, sessionID, participantID uuid.UUID) error {
	err := s.do(ctx, http.MethodPost, "/api/sessions/"+sessionID.String()+"/join",
		map[string]any{"participant_id": participantID}, nil)
	if isStatus(err, http.StatusConflict) {
		return session.ErrSessionCompleted
	}
	return err
}

func (s *RESTStore) Leave(ctx context.Context, sessionID, participantID uuid.UUID) error {
	return s.do(ctx, http.MethodPost, "/api/sessions/"+sessionID.String()+"/leave",
		map[string]any{"participant_id": participantID}, nil)
}

func (s *RESTStore) SetReady(ctx context.Context, sessionID, participantID uuid.UUID, ready bool) error {
	return s.do(ctx, http.MethodPost, "/api/sessions/"+sessionID.String()+"/early-start-vote",
		map[string]any{"participant_id": participantID, "ready": ready}, nil)
}

func (s *RESTStore) Snapshot(ctx context.Context, sessionID uuid.UUID) (*models.SessionSnapshot, error) {
	var snapshot models.SessionSnapshot
	err := s.do(ctx, http.MethodGet, "/api/sessions/"+sessionID.String()+"/snapshot", nil, &snapshot)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	return &snapshot, nil
}

// statusError carries a non-2xx response so callers can translate well-known
// codes back into the session package sentinels.
type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Message)
}

func isStatus(err error, code int) bool {
	se, ok := err.(*statusError)
	return ok && se.Code == code
}

func (s *RESTStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &statusError{Code: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
