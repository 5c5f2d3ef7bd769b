// Package client implements the participant session controller: the piece
// that runs next to one participant, keeps a live view of their lobby and
// turns user intent (join, vote, leave) into store calls.
package client

import (
	"context"

	"github.com/google/uuid"
	"github.com/meetplay/lobby/internal/models"
	"github.com/meetplay/lobby/internal/session"
)

// Store is everything the controller needs from the session store. The
// in-process session.App and the REST client both satisfy it, so a
// controller can run embedded in the server or against a remote gateway.
type Store interface {
	GetActiveSession(ctx context.Context, meetingID uuid.UUID, gameID string) (*models.Session, error)
	CreateWaitingSession(ctx context.Context, meetingID uuid.UUID, gameID string) (*models.Session, error)
	SetStatus(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) (*models.Session, error)
	TouchActivity(ctx context.Context, sessionID uuid.UUID) error
	GetOrCreateParticipant(ctx context.Context, meetingID uuid.UUID, externalUserID, displayName string) (*models.Participant, error)
	Join(ctx context.Context, sessionID, participantID uuid.UUID) error
	Leave(ctx context.Context, sessionID, participantID uuid.UUID) error
	SetReady(ctx context.Context, sessionID, participantID uuid.UUID, ready bool) error
	Snapshot(ctx context.Context, sessionID uuid.UUID) (*models.SessionSnapshot, error)
}

var _ Store = (*session.App)(nil)
