package models

import (
	"time"

	"github.com/google/uuid"
)

// UnboundedCapacity is the sentinel for a meeting with no fixed participant
// count. An unbounded meeting never satisfies the full-quorum auto-start.
const UnboundedCapacity = 0

// Meeting identifies a group context and its fixed participant capacity.
// Immutable for the lifetime of the lobby flow; the lobby core only reads it.
type Meeting struct {
	ID                uuid.UUID `json:"id"`
	TotalParticipants int       `json:"total_participants"`
	CreatedAt         time.Time `json:"created_at"`
}

// Unbounded reports whether the meeting has no fixed capacity.
func (m *Meeting) Unbounded() bool {
	return m.TotalParticipants == UnboundedCapacity
}

// Game describes a playable title. The catalog and in-game content are owned
// externally; the lobby only needs the minimum player count.
type Game struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	MinPlayers  int    `json:"min_players" yaml:"min_players"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}
