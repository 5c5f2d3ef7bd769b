package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/meetplay/lobby/internal/models"
	"github.com/rs/zerolog/log"
)

// Repository defines what the session app layer needs from storage.
type Repository interface {
	CreateMeeting(ctx context.Context, req CreateMeetingRequest) (*models.Meeting, error)
	GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error)

	CreateSession(ctx context.Context, req CreateSessionRequest) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// ListActiveSessions returns the non-completed sessions for the pair,
	// ordered by created_at ascending (id ascending as final tie-break).
	ListActiveSessions(ctx context.Context, meetingID uuid.UUID, gameID string) ([]models.Session, error)
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, req UpdateStatusRequest) (*models.Session, error)
	TouchSession(ctx context.Context, id uuid.UUID, at time.Time) error
	ListStaleWaitingSessions(ctx context.Context, olderThan time.Time, limit int) ([]models.Session, error)

	GetParticipantByExternalID(ctx context.Context, meetingID uuid.UUID, externalUserID string) (*models.Participant, error)
	CreateParticipant(ctx context.Context, req CreateParticipantRequest) (*models.Participant, error)
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)

	AddGameParticipant(ctx context.Context, sessionID, participantID uuid.UUID, at time.Time) (bool, error)
	RemoveGameParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (bool, error)
	RemoveAllGameParticipants(ctx context.Context, sessionID uuid.UUID) (int, error)
	SetParticipantReady(ctx context.Context, sessionID, participantID uuid.UUID, ready bool) (bool, error)
	// ListGameParticipants returns the join rows ordered by joined_at
	// ascending so every snapshot carries a deterministic participant order.
	ListGameParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.GameParticipant, error)
}

// Broadcaster fans a fresh snapshot out to every subscriber of a session.
// Delivery is best effort, latest value wins.
type Broadcaster interface {
	BroadcastSnapshot(snapshot *models.SessionSnapshot)
}

// Config holds the externally supplied lobby constants.
type Config struct {
	// Games is the externally owned catalog; only MinPlayers is consulted.
	Games []models.Game
	// DefaultMinPlayers applies to game ids missing from the catalog.
	DefaultMinPlayers int
}

// App is the authoritative store for sessions and their participant sets.
// All mutations to one session are serialized through a per-session lock,
// re-evaluate the lobby state machine, and fan out one fresh snapshot.
type App struct {
	repo        Repository
	broadcaster Broadcaster
	clock       clockwork.Clock
	locks       *sessionLocks

	games             map[string]models.Game
	defaultMinPlayers int
}

// NewApp creates a session App. broadcaster may be nil when no push
// transport is attached (the reaper binary, tests).
func NewApp(repo Repository, broadcaster Broadcaster, cfg Config, clock clockwork.Clock) *App {
	games := make(map[string]models.Game, len(cfg.Games))
	for _, g := range cfg.Games {
		games[g.ID] = g
	}
	minPlayers := cfg.DefaultMinPlayers
	if minPlayers <= 0 {
		minPlayers = 2
	}
	return &App{
		repo:              repo,
		broadcaster:       broadcaster,
		clock:             clock,
		locks:             newSessionLocks(),
		games:             games,
		defaultMinPlayers: minPlayers,
	}
}

// CreateMeeting registers a meeting context with a fixed capacity.
// A capacity of models.UnboundedCapacity creates an open lobby.
func (a *App) CreateMeeting(ctx context.Context, totalParticipants int) (*models.Meeting, error) {
	if totalParticipants < 0 {
		return nil, fmt.Errorf("total_participants cannot be negative")
	}
	meeting, err := a.repo.CreateMeeting(ctx, CreateMeetingRequest{
		ID:                uuid.New(),
		TotalParticipants: totalParticipants,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}
	return meeting, nil
}

// GetMeeting retrieves a meeting by id.
func (a *App) GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	meeting, err := a.repo.GetMeeting(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return meeting, nil
}

// GetActiveSession returns the in-progress session for the pair if one
// exists, else the oldest waiting one, else ErrNoActiveSession. The oldest
// waiting session is authoritative when a creation race produced duplicates.
func (a *App) GetActiveSession(ctx context.Context, meetingID uuid.UUID, gameID string) (*models.Session, error) {
	sessions, err := a.repo.ListActiveSessions(ctx, meetingID, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	for i := range sessions {
		if sessions[i].Status == models.SessionStatusInProgress {
			return &sessions[i], nil
		}
	}
	for i := range sessions {
		if sessions[i].Status == models.SessionStatusWaiting {
			return &sessions[i], nil
		}
	}
	return nil, ErrNoActiveSession
}

// CreateWaitingSession creates a new waiting session for the pair, or
// returns the existing active one. The get-then-create window is not atomic
// across callers; a duplicate waiting session created by a racing client is
// tolerated and self-heals via the empty-lobby rule (see GetActiveSession
// for the tie-break).
func (a *App) CreateWaitingSession(ctx context.Context, meetingID uuid.UUID, gameID string) (*models.Session, error) {
	if gameID == "" {
		return nil, fmt.Errorf("game_id is required")
	}
	if _, err := a.repo.GetMeeting(ctx, meetingID); err != nil {
		return nil, fmt.Errorf("meeting not found: %w", err)
	}

	existing, err := a.GetActiveSession(ctx, meetingID, gameID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNoActiveSession) {
		return nil, err
	}

	sess, err := a.repo.CreateSession(ctx, CreateSessionRequest{
		ID:        uuid.New(),
		MeetingID: meetingID,
		GameID:    gameID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("session_id", sess.ID.String()).
		Str("meeting_id", meetingID.String()).
		Str("game_id", gameID).
		Msg("created waiting session")
	return sess, nil
}

// SetStatus applies a status transition, stamping started_at when entering
// in-progress and last_activity always. A same-status call is a tolerated
// no-op that still refreshes activity.
func (a *App) SetStatus(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) (*models.Session, error) {
	release := a.locks.acquire(sessionID)
	defer release()

	sess, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}

	if err := ValidateTransition(sess.Status, status); err != nil {
		return nil, fmt.Errorf("invalid status transition: %w", err)
	}

	if sess.Status == status {
		if err := a.repo.TouchSession(ctx, sessionID, a.clock.Now()); err != nil {
			return nil, fmt.Errorf("failed to touch session: %w", err)
		}
		return sess, nil
	}

	updated, err := a.applyStatusLocked(ctx, sess, status)
	if err != nil {
		return nil, err
	}

	a.fanOutLocked(ctx, updated)

	log.Info().
		Str("session_id", sessionID.String()).
		Str("status", string(status)).
		Msg("session status updated")
	return updated, nil
}

// TouchActivity refreshes last_activity without changing status. Any live
// controller calling this keeps the session out of the reaper's reach.
func (a *App) TouchActivity(ctx context.Context, sessionID uuid.UUID) error {
	if err := a.repo.TouchSession(ctx, sessionID, a.clock.Now()); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// GetOrCreateParticipant resolves the stable identity for an external user
// within a meeting. Idempotent: the same external id always resolves to the
// same participant.
func (a *App) GetOrCreateParticipant(ctx context.Context, meetingID uuid.UUID, externalUserID, displayName string) (*models.Participant, error) {
	if externalUserID == "" {
		return nil, ErrInvalidIdentity
	}
	if displayName == "" {
		displayName = "User " + externalUserID
	}

	existing, err := a.repo.GetParticipantByExternalID(ctx, meetingID, externalUserID)
	if err == nil {
		return existing, nil
	}

	created, createErr := a.repo.CreateParticipant(ctx, CreateParticipantRequest{
		ID:             uuid.New(),
		MeetingID:      meetingID,
		ExternalUserID: externalUserID,
		DisplayName:    displayName,
	})
	if createErr == nil {
		return created, nil
	}

	// A concurrent caller may have won the insert; the unique constraint on
	// (meeting_id, external_user_id) makes the re-read authoritative.
	if existing, err = a.repo.GetParticipantByExternalID(ctx, meetingID, externalUserID); err == nil {
		return existing, nil
	}
	return nil, fmt.Errorf("failed to create participant: %w", createErr)
}

// GetParticipant retrieves a participant by id.
func (a *App) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	p, err := a.repo.GetParticipant(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// Join attaches a participant to a session. Joining twice is a no-op, not an
// error. The state machine runs before the fan-out so two concurrent joins
// cannot both pass a capacity check only one should satisfy.
func (a *App) Join(ctx context.Context, sessionID, participantID uuid.UUID) error {
	release := a.locks.acquire(sessionID)
	defer release()

	sess, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}
	if sess.Status == models.SessionStatusCompleted {
		return ErrSessionCompleted
	}

	inserted, err := a.repo.AddGameParticipant(ctx, sessionID, participantID, a.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}
	if inserted {
		log.Info().
			Str("session_id", sessionID.String()).
			Str("participant_id", participantID.String()).
			Msg("participant joined")
	}

	return a.afterMutationLocked(ctx, sess, inserted)
}

// Leave detaches a participant from a session. Leaving when not joined is a
// no-op. When the last participant leaves a waiting session the empty-lobby
// rule completes it.
func (a *App) Leave(ctx context.Context, sessionID, participantID uuid.UUID) error {
	release := a.locks.acquire(sessionID)
	defer release()

	sess, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}
	if sess.Status == models.SessionStatusCompleted {
		return nil
	}

	removed, err := a.repo.RemoveGameParticipant(ctx, sessionID, participantID)
	if err != nil {
		return fmt.Errorf("failed to leave session: %w", err)
	}
	if removed {
		log.Info().
			Str("session_id", sessionID.String()).
			Str("participant_id", participantID.String()).
			Msg("participant left")
	}

	return a.afterMutationLocked(ctx, sess, removed)
}

// SetReady records a participant's early-start vote. Requires the
// participant to already be joined; tolerated as a no-op otherwise.
func (a *App) SetReady(ctx context.Context, sessionID, participantID uuid.UUID, ready bool) error {
	release := a.locks.acquire(sessionID)
	defer release()

	sess, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}
	if sess.Status == models.SessionStatusCompleted {
		return nil
	}

	updated, err := a.repo.SetParticipantReady(ctx, sessionID, participantID, ready)
	if err != nil {
		return fmt.Errorf("failed to set ready vote: %w", err)
	}
	if !updated {
		log.Debug().
			Str("session_id", sessionID.String()).
			Str("participant_id", participantID.String()).
			Msg("ready vote from non-joined participant ignored")
	}

	return a.afterMutationLocked(ctx, sess, updated)
}

// Snapshot returns a consistent read of the session plus its participant
// set, taken under the session lock so it never interleaves with a mutation.
func (a *App) Snapshot(ctx context.Context, sessionID uuid.UUID) (*models.SessionSnapshot, error) {
	release := a.locks.acquire(sessionID)
	defer release()

	return a.snapshotLocked(ctx, sessionID)
}

// StaleWaitingSessions lists waiting sessions whose last activity is older
// than the cutoff. Used by the inactivity reaper.
func (a *App) StaleWaitingSessions(ctx context.Context, olderThan time.Time, limit int) ([]models.Session, error) {
	sessions, err := a.repo.ListStaleWaitingSessions(ctx, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	return sessions, nil
}

// RetireSession removes every participant row and completes the session,
// regardless of participant count. Idempotent: retiring a completed session
// is a no-op.
func (a *App) RetireSession(ctx context.Context, sessionID uuid.UUID) error {
	release := a.locks.acquire(sessionID)
	defer release()

	sess, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}
	if sess.Status == models.SessionStatusCompleted {
		return nil
	}

	removed, err := a.repo.RemoveAllGameParticipants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear participants: %w", err)
	}

	updated, err := a.applyStatusLocked(ctx, sess, models.SessionStatusCompleted)
	if err != nil {
		return err
	}
	a.fanOutLocked(ctx, updated)

	log.Info().
		Str("session_id", sessionID.String()).
		Int("participants_removed", removed).
		Msg("session retired")
	return nil
}

// afterMutationLocked refreshes activity, re-runs the state machine and fans
// out a fresh snapshot. The state machine only runs when the mutation really
// changed the participant set or a vote; an idempotent no-op must leave
// status untouched. Caller must hold the session lock.
func (a *App) afterMutationLocked(ctx context.Context, sess *models.Session, mutated bool) error {
	if err := a.repo.TouchSession(ctx, sess.ID, a.clock.Now()); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if !mutated {
		a.fanOutLocked(ctx, sess)
		return nil
	}

	participants, err := a.repo.ListGameParticipants(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}

	meeting, err := a.repo.GetMeeting(ctx, sess.MeetingID)
	if err != nil {
		return fmt.Errorf("meeting not found: %w", err)
	}

	decision := Evaluate(EvalInput{
		Status:      sess.Status,
		JoinedCount: len(participants),
		ReadyCount:  countReady(participants),
		Capacity:    meeting.TotalParticipants,
		MinPlayers:  a.minPlayersFor(sess.GameID),
	})

	if decision.Changed {
		updated, err := a.applyStatusLocked(ctx, sess, decision.Next)
		if err != nil {
			return err
		}
		sess = updated
		log.Info().
			Str("session_id", sess.ID.String()).
			Str("status", string(decision.Next)).
			Str("reason", string(decision.Reason)).
			Msg("state machine transition")
	}

	a.fanOutLocked(ctx, sess)
	return nil
}

// applyStatusLocked persists a status change, stamping started_at exactly
// once on the waiting-to-in-progress edge. Caller must hold the session lock.
func (a *App) applyStatusLocked(ctx context.Context, sess *models.Session, status models.SessionStatus) (*models.Session, error) {
	now := a.clock.Now()
	req := UpdateStatusRequest{
		Status:       status,
		StartedAt:    sess.StartedAt,
		LastActivity: now,
	}
	if status == models.SessionStatusInProgress && sess.StartedAt == nil {
		req.StartedAt = &now
	}

	updated, err := a.repo.UpdateSessionStatus(ctx, sess.ID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}
	return updated, nil
}

// fanOutLocked broadcasts the current snapshot to every subscriber. Fan-out
// failures never affect the mutation that triggered them.
func (a *App) fanOutLocked(ctx context.Context, sess *models.Session) {
	if a.broadcaster == nil {
		return
	}
	snapshot, err := a.snapshotLocked(ctx, sess.ID)
	if err != nil {
		log.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Msg("failed to build snapshot for fan-out")
		return
	}
	a.broadcaster.BroadcastSnapshot(snapshot)
}

func (a *App) snapshotLocked(ctx context.Context, sessionID uuid.UUID) (*models.SessionSnapshot, error) {
	sess, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}
	participants, err := a.repo.ListGameParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return &models.SessionSnapshot{
		Session:      *sess,
		Participants: participants,
		ReadyCount:   countReady(participants),
	}, nil
}

func (a *App) minPlayersFor(gameID string) int {
	if g, ok := a.games[gameID]; ok && g.MinPlayers > 0 {
		return g.MinPlayers
	}
	return a.defaultMinPlayers
}

func countReady(participants []models.GameParticipant) int {
	n := 0
	for _, gp := range participants {
		if gp.ReadyToStart {
			n++
		}
	}
	return n
}
