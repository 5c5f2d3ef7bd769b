package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meetplay/lobby/internal/models"
	"github.com/meetplay/lobby/internal/session"
	"github.com/meetplay/lobby/internal/session/memory"
)

func setup(t *testing.T) (*session.App, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	repo := memory.NewRepository(clock)
	app := session.NewApp(repo, nil, session.Config{DefaultMinPlayers: 2}, clock)
	return app, clock
}

func TestRunOnceRetiresStaleWaitingSessions(t *testing.T) {
	ctx := context.Background()
	app, clock := setup(t)
	r := New(app, clock, Config{})

	meeting, err := app.CreateMeeting(ctx, 4)
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	stale, err := app.CreateWaitingSession(ctx, meeting.ID, "trivia")
	if err != nil {
		t.Fatalf("CreateWaitingSession: %v", err)
	}
	p, err := app.GetOrCreateParticipant(ctx, meeting.ID, "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreateParticipant: %v", err)
	}
	if err := app.Join(ctx, stale.ID, p.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}

	// Fresh session for another game, touched after the clock advances.
	fresh, err := app.CreateWaitingSession(ctx, meeting.ID, "chess")
	if err != nil {
		t.Fatalf("CreateWaitingSession: %v", err)
	}

	clock.Advance(DefaultThreshold + time.Second)
	if err := app.TouchActivity(ctx, fresh.ID); err != nil {
		t.Fatalf("TouchActivity: %v", err)
	}

	retired, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if retired != 1 {
		t.Fatalf("retired = %d, want 1", retired)
	}

	snap, err := app.Snapshot(ctx, stale.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Session.Status != models.SessionStatusCompleted {
		t.Fatalf("stale session status = %s, want COMPLETED", snap.Session.Status)
	}
	if len(snap.Participants) != 0 {
		t.Fatalf("stale session still has %d participants", len(snap.Participants))
	}

	freshSnap, err := app.Snapshot(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("Snapshot fresh: %v", err)
	}
	if freshSnap.Session.Status != models.SessionStatusWaiting {
		t.Fatalf("fresh session status = %s, want WAITING", freshSnap.Session.Status)
	}
}

func TestRunOnceIgnoresInProgressSessions(t *testing.T) {
	ctx := context.Background()
	app, clock := setup(t)
	r := New(app, clock, Config{})

	meeting, err := app.CreateMeeting(ctx, 4)
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	sess, err := app.CreateWaitingSession(ctx, meeting.ID, "trivia")
	if err != nil {
		t.Fatalf("CreateWaitingSession: %v", err)
	}
	if _, err := app.SetStatus(ctx, sess.ID, models.SessionStatusInProgress); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	clock.Advance(DefaultThreshold * 2)

	retired, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if retired != 0 {
		t.Fatalf("retired = %d, want 0", retired)
	}
}

func TestRunOnceLeavesActiveSessionsAlone(t *testing.T) {
	ctx := context.Background()
	app, clock := setup(t)
	r := New(app, clock, Config{Threshold: 5 * time.Minute})

	meeting, err := app.CreateMeeting(ctx, 4)
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	sess, err := app.CreateWaitingSession(ctx, meeting.ID, "trivia")
	if err != nil {
		t.Fatalf("CreateWaitingSession: %v", err)
	}

	// Just under the threshold.
	clock.Advance(5*time.Minute - time.Second)

	retired, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if retired != 0 {
		t.Fatalf("retired = %d, want 0", retired)
	}

	snap, err := app.Snapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Session.Status != models.SessionStatusWaiting {
		t.Fatalf("status = %s, want WAITING", snap.Session.Status)
	}
}
