package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/meetplay/lobby/internal/models"
)

// CreateMeetingRequest represents a request to create a new meeting
type CreateMeetingRequest struct {
	ID                uuid.UUID `json:"id"`
	TotalParticipants int       `json:"total_participants"`
}

// CreateSessionRequest represents a request to create a new waiting session
type CreateSessionRequest struct {
	ID        uuid.UUID `json:"id"`
	MeetingID uuid.UUID `json:"meeting_id"`
	GameID    string    `json:"game_id"`
}

// CreateParticipantRequest represents a request to create a participant
// identity within a meeting
type CreateParticipantRequest struct {
	ID             uuid.UUID `json:"id"`
	MeetingID      uuid.UUID `json:"meeting_id"`
	ExternalUserID string    `json:"external_user_id"`
	DisplayName    string    `json:"display_name"`
}

// UpdateStatusRequest carries an applied status transition to the repository
type UpdateStatusRequest struct {
	Status       models.SessionStatus `json:"status"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	LastActivity time.Time            `json:"last_activity"`
}
