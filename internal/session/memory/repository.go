// Package memory provides an in-memory session repository. It backs tests
// and the offline test mode; the postgres repository is the production
// implementation of the same contract.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/meetplay/lobby/internal/models"
	"github.com/meetplay/lobby/internal/session"
)

type gpKey struct {
	sessionID     uuid.UUID
	participantID uuid.UUID
}

// Repository is a map-backed implementation of session.Repository. Safe for
// concurrent use; every method takes the repository mutex.
type Repository struct {
	mu           sync.RWMutex
	clock        clockwork.Clock
	meetings     map[uuid.UUID]models.Meeting
	sessions     map[uuid.UUID]models.Session
	participants map[uuid.UUID]models.Participant
	joins        map[gpKey]models.GameParticipant
}

// NewRepository creates an empty in-memory repository.
func NewRepository(clock clockwork.Clock) *Repository {
	return &Repository{
		clock:        clock,
		meetings:     make(map[uuid.UUID]models.Meeting),
		sessions:     make(map[uuid.UUID]models.Session),
		participants: make(map[uuid.UUID]models.Participant),
		joins:        make(map[gpKey]models.GameParticipant),
	}
}

var _ session.Repository = (*Repository)(nil)

func (r *Repository) CreateMeeting(ctx context.Context, req session.CreateMeetingRequest) (*models.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	meeting := models.Meeting{
		ID:                req.ID,
		TotalParticipants: req.TotalParticipants,
		CreatedAt:         r.clock.Now(),
	}
	r.meetings[meeting.ID] = meeting
	return &meeting, nil
}

func (r *Repository) GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meeting, ok := r.meetings[id]
	if !ok {
		return nil, session.ErrMeetingNotFound
	}
	return &meeting, nil
}

func (r *Repository) CreateSession(ctx context.Context, req session.CreateSessionRequest) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	sess := models.Session{
		ID:           req.ID,
		MeetingID:    req.MeetingID,
		GameID:       req.GameID,
		Status:       models.SessionStatusWaiting,
		LastActivity: now,
		CreatedAt:    now,
	}
	r.sessions[sess.ID] = sess
	return &sess, nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return &sess, nil
}

func (r *Repository) ListActiveSessions(ctx context.Context, meetingID uuid.UUID, gameID string) ([]models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Session
	for _, sess := range r.sessions {
		if sess.MeetingID != meetingID || sess.GameID != gameID {
			continue
		}
		if sess.Status == models.SessionStatusCompleted {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *Repository) UpdateSessionStatus(ctx context.Context, id uuid.UUID, req session.UpdateStatusRequest) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	sess.Status = req.Status
	sess.StartedAt = req.StartedAt
	sess.LastActivity = req.LastActivity
	r.sessions[id] = sess
	return &sess, nil
}

func (r *Repository) TouchSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	sess.LastActivity = at
	r.sessions[id] = sess
	return nil
}

func (r *Repository) ListStaleWaitingSessions(ctx context.Context, olderThan time.Time, limit int) ([]models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Session
	for _, sess := range r.sessions {
		if sess.Status != models.SessionStatusWaiting {
			continue
		}
		if !sess.LastActivity.Before(olderThan) {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.Before(out[j].LastActivity)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) GetParticipantByExternalID(ctx context.Context, meetingID uuid.UUID, externalUserID string) (*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.participants {
		if p.MeetingID == meetingID && p.ExternalUserID == externalUserID {
			return &p, nil
		}
	}
	return nil, session.ErrParticipantNotFound
}

func (r *Repository) CreateParticipant(ctx context.Context, req session.CreateParticipantRequest) (*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Same uniqueness guarantee as the DB constraint on
	// (meeting_id, external_user_id).
	for _, p := range r.participants {
		if p.MeetingID == req.MeetingID && p.ExternalUserID == req.ExternalUserID {
			return &p, nil
		}
	}

	participant := models.Participant{
		ID:             req.ID,
		MeetingID:      req.MeetingID,
		ExternalUserID: req.ExternalUserID,
		DisplayName:    req.DisplayName,
		CreatedAt:      r.clock.Now(),
	}
	r.participants[participant.ID] = participant
	return &participant, nil
}

func (r *Repository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return nil, session.ErrParticipantNotFound
	}
	return &p, nil
}

func (r *Repository) AddGameParticipant(ctx context.Context, sessionID, participantID uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := gpKey{sessionID, participantID}
	if _, ok := r.joins[key]; ok {
		return false, nil
	}
	r.joins[key] = models.GameParticipant{
		SessionID:     sessionID,
		ParticipantID: participantID,
		ReadyToStart:  false,
		JoinedAt:      at,
	}
	return true, nil
}

func (r *Repository) RemoveGameParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := gpKey{sessionID, participantID}
	if _, ok := r.joins[key]; !ok {
		return false, nil
	}
	delete(r.joins, key)
	return true, nil
}

func (r *Repository) RemoveAllGameParticipants(ctx context.Context, sessionID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key := range r.joins {
		if key.sessionID == sessionID {
			delete(r.joins, key)
			removed++
		}
	}
	return removed, nil
}

func (r *Repository) SetParticipantReady(ctx context.Context, sessionID, participantID uuid.UUID, ready bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := gpKey{sessionID, participantID}
	gp, ok := r.joins[key]
	if !ok {
		return false, nil
	}
	gp.ReadyToStart = ready
	r.joins[key] = gp
	return true, nil
}

func (r *Repository) ListGameParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.GameParticipant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.GameParticipant, 0)
	for key, gp := range r.joins {
		if key.sessionID == sessionID {
			out = append(out, gp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ParticipantID.String() < out[j].ParticipantID.String()
	})
	return out, nil
}
