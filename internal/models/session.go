package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus defines the lifecycle status of a game session.
type SessionStatus string

const (
	SessionStatusWaiting    SessionStatus = "WAITING"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// Session represents one attempt to play a specific game within a meeting.
// For a (meeting_id, game_id) pair at most one non-completed session should
// exist at a time; duplicates created by racing clients are tolerated and
// retired by the empty-lobby rule or the reaper.
type Session struct {
	ID           uuid.UUID     `json:"id"`
	MeetingID    uuid.UUID     `json:"meeting_id"`
	GameID       string        `json:"game_id"`
	Status       SessionStatus `json:"status"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	LastActivity time.Time     `json:"last_activity"`
	CreatedAt    time.Time     `json:"created_at"`
}

// SessionSnapshot is the atomic unit of synchronization: one session plus
// its full participant set read at a single instant. Clients never
// reconstruct lobby state from partial deltas.
type SessionSnapshot struct {
	Session      Session           `json:"session"`
	Participants []GameParticipant `json:"participants"`
	ReadyCount   int               `json:"ready_count"`
}

// HasParticipant reports whether the given participant is joined.
func (s *SessionSnapshot) HasParticipant(participantID uuid.UUID) bool {
	for _, gp := range s.Participants {
		if gp.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// ParticipantReady reports the ready vote of the given participant, false if
// the participant is not joined.
func (s *SessionSnapshot) ParticipantReady(participantID uuid.UUID) bool {
	for _, gp := range s.Participants {
		if gp.ParticipantID == participantID {
			return gp.ReadyToStart
		}
	}
	return false
}
