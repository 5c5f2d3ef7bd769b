// Package postgres implements the session repository on a pgx connection
// pool. Schema lives under migrations/.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meetplay/lobby/internal/models"
	"github.com/meetplay/lobby/internal/session"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ session.Repository = (*Repository)(nil)

func (r *Repository) CreateMeeting(ctx context.Context, req session.CreateMeetingRequest) (*models.Meeting, error) {
	var meeting models.Meeting
	err := r.db.QueryRow(ctx, `
		INSERT INTO meetings (id, total_participants)
		VALUES ($1, $2)
		RETURNING id, total_participants, created_at`,
		req.ID, req.TotalParticipants).
		Scan(&meeting.ID, &meeting.TotalParticipants, &meeting.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}
	return &meeting, nil
}

func (r *Repository) GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	var meeting models.Meeting
	err := r.db.QueryRow(ctx, `
		SELECT id, total_participants, created_at
		FROM meetings WHERE id = $1`, id).
		Scan(&meeting.ID, &meeting.TotalParticipants, &meeting.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrMeetingNotFound
		}
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return &meeting, nil
}

func (r *Repository) CreateSession(ctx context.Context, req session.CreateSessionRequest) (*models.Session, error) {
	var sess models.Session
	err := r.db.QueryRow(ctx, `
		INSERT INTO game_sessions (id, meeting_id, game_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, meeting_id, game_id, status, started_at, last_activity, created_at`,
		req.ID, req.MeetingID, req.GameID, models.SessionStatusWaiting).
		Scan(&sess.ID, &sess.MeetingID, &sess.GameID, &sess.Status,
			&sess.StartedAt, &sess.LastActivity, &sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &sess, nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var sess models.Session
	err := r.db.QueryRow(ctx, `
		SELECT id, meeting_id, game_id, status, started_at, last_activity, created_at
		FROM game_sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.MeetingID, &sess.GameID, &sess.Status,
			&sess.StartedAt, &sess.LastActivity, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &sess, nil
}

func (r *Repository) ListActiveSessions(ctx context.Context, meetingID uuid.UUID, gameID string) ([]models.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, meeting_id, game_id, status, started_at, last_activity, created_at
		FROM game_sessions
		WHERE meeting_id = $1 AND game_id = $2 AND status <> $3
		ORDER BY created_at ASC, id ASC`,
		meetingID, gameID, models.SessionStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (r *Repository) UpdateSessionStatus(ctx context.Context, id uuid.UUID, req session.UpdateStatusRequest) (*models.Session, error) {
	var sess models.Session
	err := r.db.QueryRow(ctx, `
		UPDATE game_sessions
		SET status = $2, started_at = $3, last_activity = $4
		WHERE id = $1
		RETURNING id, meeting_id, game_id, status, started_at, last_activity, created_at`,
		id, req.Status, req.StartedAt, req.LastActivity).
		Scan(&sess.ID, &sess.MeetingID, &sess.GameID, &sess.Status,
			&sess.StartedAt, &sess.LastActivity, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}
	return &sess, nil
}

func (r *Repository) TouchSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE game_sessions SET last_activity = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (r *Repository) ListStaleWaitingSessions(ctx context.Context, olderThan time.Time, limit int) ([]models.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, meeting_id, game_id, status, started_at, last_activity, created_at
		FROM game_sessions
		WHERE status = $1 AND last_activity < $2
		ORDER BY last_activity ASC
		LIMIT $3`,
		models.SessionStatusWaiting, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (r *Repository) GetParticipantByExternalID(ctx context.Context, meetingID uuid.UUID, externalUserID string) (*models.Participant, error) {
	var p models.Participant
	err := r.db.QueryRow(ctx, `
		SELECT id, meeting_id, external_user_id, display_name, created_at
		FROM participants
		WHERE meeting_id = $1 AND external_user_id = $2`,
		meetingID, externalUserID).
		Scan(&p.ID, &p.MeetingID, &p.ExternalUserID, &p.DisplayName, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return &p, nil
}

func (r *Repository) CreateParticipant(ctx context.Context, req session.CreateParticipantRequest) (*models.Participant, error) {
	var p models.Participant
	err := r.db.QueryRow(ctx, `
		INSERT INTO participants (id, meeting_id, external_user_id, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, meeting_id, external_user_id, display_name, created_at`,
		req.ID, req.MeetingID, req.ExternalUserID, req.DisplayName).
		Scan(&p.ID, &p.MeetingID, &p.ExternalUserID, &p.DisplayName, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return &p, nil
}

func (r *Repository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	var p models.Participant
	err := r.db.QueryRow(ctx, `
		SELECT id, meeting_id, external_user_id, display_name, created_at
		FROM participants WHERE id = $1`, id).
		Scan(&p.ID, &p.MeetingID, &p.ExternalUserID, &p.DisplayName, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return &p, nil
}

func (r *Repository) AddGameParticipant(ctx context.Context, sessionID, participantID uuid.UUID, at time.Time) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		INSERT INTO game_participants (session_id, participant_id, ready_to_start, joined_at)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (session_id, participant_id) DO NOTHING`,
		sessionID, participantID, at)
	if err != nil {
		return false, fmt.Errorf("failed to add game participant: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *Repository) RemoveGameParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		DELETE FROM game_participants
		WHERE session_id = $1 AND participant_id = $2`,
		sessionID, participantID)
	if err != nil {
		return false, fmt.Errorf("failed to remove game participant: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *Repository) RemoveAllGameParticipants(ctx context.Context, sessionID uuid.UUID) (int, error) {
	cmd, err := r.db.Exec(ctx, `
		DELETE FROM game_participants WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove game participants: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (r *Repository) SetParticipantReady(ctx context.Context, sessionID, participantID uuid.UUID, ready bool) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE game_participants SET ready_to_start = $3
		WHERE session_id = $1 AND participant_id = $2`,
		sessionID, participantID, ready)
	if err != nil {
		return false, fmt.Errorf("failed to set ready vote: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *Repository) ListGameParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.GameParticipant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT session_id, participant_id, ready_to_start, joined_at
		FROM game_participants
		WHERE session_id = $1
		ORDER BY joined_at ASC, participant_id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list game participants: %w", err)
	}
	defer rows.Close()

	out := make([]models.GameParticipant, 0)
	for rows.Next() {
		var gp models.GameParticipant
		if err := rows.Scan(&gp.SessionID, &gp.ParticipantID, &gp.ReadyToStart, &gp.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan game participant: %w", err)
		}
		out = append(out, gp)
	}
	return out, rows.Err()
}

func scanSessions(rows pgx.Rows) ([]models.Session, error) {
	var out []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.MeetingID, &sess.GameID, &sess.Status,
			&sess.StartedAt, &sess.LastActivity, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
