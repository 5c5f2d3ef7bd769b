package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is a stable identity for one human inside one meeting.
// Created at most once per (meeting, external user id) pair.
type Participant struct {
	ID             uuid.UUID `json:"id"`
	MeetingID      uuid.UUID `json:"meeting_id"`
	ExternalUserID string    `json:"external_user_id"`
	DisplayName    string    `json:"display_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// GameParticipant is the join row attaching a participant to a session.
// Its presence IS membership: the row is created on join and deleted on
// leave, never soft-deleted.
type GameParticipant struct {
	SessionID     uuid.UUID `json:"session_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	ReadyToStart  bool      `json:"ready_to_start"`
	JoinedAt      time.Time `json:"joined_at"`
}
