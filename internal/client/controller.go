package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/meetplay/lobby/internal/models"
	"github.com/meetplay/lobby/internal/notify"
	"github.com/meetplay/lobby/internal/session"
	"github.com/rs/zerolog/log"
)

// SyncMode says how the controller currently learns about lobby changes.
// Exactly one mode is active at any time.
type SyncMode string

const (
	// SyncModePush means a live websocket subscription delivers snapshots.
	SyncModePush SyncMode = "push"
	// SyncModePolling means snapshots are fetched on a fixed interval.
	SyncModePolling SyncMode = "polling"
)

// DefaultPollInterval is the snapshot fetch cadence when polling.
const DefaultPollInterval = 3 * time.Second

// DefaultKeepAliveInterval is how often a joined controller refreshes the
// session's activity timestamp so an attended lobby is not reaped.
const DefaultKeepAliveInterval = time.Minute

// Notifier publishes lobby events to the chat collaborator. May be nil.
type Notifier interface {
	Publish(eventType notify.EventType, event notify.Event)
}

// State is the controller's derived view of the lobby, rebuilt from every
// snapshot. Callbacks receive it by value.
type State struct {
	Session          models.Session
	Participants     []models.GameParticipant
	HasJoined        bool
	IsReady          bool
	ParticipantCount int
	ReadyCount       int
	Mode             SyncMode
}

// Config configures one controller instance.
type Config struct {
	MeetingID      uuid.UUID
	Game           models.Game
	ExternalUserID string
	DisplayName    string

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// KeepAliveInterval defaults to DefaultKeepAliveInterval.
	KeepAliveInterval time.Duration
	// Backoff defaults to DefaultBackoff().
	Backoff Backoff

	// OnUpdate fires after every applied snapshot.
	OnUpdate func(State)
	// OnStart fires exactly once, on the waiting-to-in-progress edge.
	OnStart func(State)
}

// Controller runs next to one participant: it resolves their identity and
// lobby, keeps a live snapshot via push or polling, and turns user intent
// into store calls.
type Controller struct {
	store     Store
	transport Transport
	notifier  Notifier
	clock     clockwork.Clock
	config    Config

	mu          sync.Mutex
	participant *models.Participant
	sessionID   uuid.UUID
	snapshot    *models.SessionSnapshot
	mode        SyncMode
	started     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a controller. transport may be nil to force polling;
// notifier may be nil to disable chat events.
func NewController(store Store, transport Transport, notifier Notifier, clock clockwork.Clock, config Config) *Controller {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if config.Backoff == (Backoff{}) {
		config.Backoff = DefaultBackoff()
	}
	return &Controller{
		store:     store,
		transport: transport,
		notifier:  notifier,
		clock:     clock,
		config:    config,
		done:      make(chan struct{}),
	}
}

// Start bootstraps identity, resolves the active session and launches the
// sync loop. An identity failure is fatal: without a participant id no lobby
// action is possible.
func (c *Controller) Start(ctx context.Context) error {
	participant, err := c.store.GetOrCreateParticipant(ctx, c.config.MeetingID, c.config.ExternalUserID, c.config.DisplayName)
	if err != nil {
		return fmt.Errorf("identity bootstrap failed: %w", err)
	}

	sess, err := c.resolveSession(ctx)
	if err != nil {
		return fmt.Errorf("session resolution failed: %w", err)
	}

	c.mu.Lock()
	c.participant = participant
	c.sessionID = sess.ID
	c.mu.Unlock()

	log.Info().
		Str("participant_id", participant.ID.String()).
		Str("session_id", sess.ID.String()).
		Str("game_id", c.config.Game.ID).
		Msg("controller started")

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.syncLoop(loopCtx)
	}()
	go func() {
		defer wg.Done()
		c.keepAliveLoop(loopCtx)
	}()
	go func() {
		wg.Wait()
		close(c.done)
	}()

	if snapshot, err := c.store.Snapshot(ctx, sess.ID); err == nil {
		c.applySnapshot(snapshot)
	} else {
		log.Error().Err(err).Msg("failed to fetch initial snapshot")
	}
	return nil
}

// keepAliveLoop refreshes last_activity while the local participant is
// joined, so an attended but quiet lobby is never reaped out from under it.
func (c *Controller) keepAliveLoop(ctx context.Context) {
	ticker := c.clock.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !c.State().HasJoined {
				continue
			}
			if err := c.store.TouchActivity(ctx, c.currentSessionID()); err != nil {
				log.Debug().Err(err).Msg("activity keepalive failed")
			}
		}
	}
}

// resolveSession returns the active session for the meeting/game pair,
// preferring an in-progress one, else the waiting one, else a fresh lobby.
func (c *Controller) resolveSession(ctx context.Context) (*models.Session, error) {
	sess, err := c.store.GetActiveSession(ctx, c.config.MeetingID, c.config.Game.ID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrNoActiveSession) {
		return nil, err
	}
	return c.store.CreateWaitingSession(ctx, c.config.MeetingID, c.config.Game.ID)
}

// Join attaches the local participant to the lobby.
func (c *Controller) Join(ctx context.Context) error {
	pid, sid := c.identity()
	wasJoined := c.State().HasJoined

	if err := c.store.Join(ctx, sid, pid); err != nil {
		return fmt.Errorf("join failed: %w", err)
	}
	if !wasJoined {
		c.publish(notify.EventJoinGame)
	}
	c.refresh(ctx)
	return nil
}

// VoteReady records the local participant's early-start vote.
func (c *Controller) VoteReady(ctx context.Context, ready bool) error {
	pid, sid := c.identity()
	if err := c.store.SetReady(ctx, sid, pid, ready); err != nil {
		return fmt.Errorf("ready vote failed: %w", err)
	}
	c.refresh(ctx)
	return nil
}

// Leave detaches the local participant. If the lobby is then an empty
// waiting session, the controller requests its completion as a courtesy;
// the store's own empty-lobby rule makes this idempotent.
func (c *Controller) Leave(ctx context.Context) error {
	pid, sid := c.identity()
	wasJoined := c.State().HasJoined

	if err := c.store.Leave(ctx, sid, pid); err != nil {
		return fmt.Errorf("leave failed: %w", err)
	}
	if wasJoined {
		c.publish(notify.EventLeaveGame)
	}
	c.refresh(ctx)

	state := c.State()
	if state.Session.Status == models.SessionStatusWaiting && state.ParticipantCount == 0 {
		if _, err := c.store.SetStatus(ctx, sid, models.SessionStatusCompleted); err != nil {
			log.Debug().Err(err).
				Str("session_id", sid.String()).
				Msg("empty lobby cleanup request failed")
		}
	}
	return nil
}

// KeepAlive refreshes the session's activity timestamp so an idle but
// attended lobby is not reaped.
func (c *Controller) KeepAlive(ctx context.Context) error {
	_, sid := c.identity()
	return c.store.TouchActivity(ctx, sid)
}

// State returns the current derived view.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Participant returns the resolved identity. Valid after Start.
func (c *Controller) Participant() *models.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participant
}

// Close stops the sync loop and makes a best-effort leave so the lobby does
// not hold a ghost participant.
func (c *Controller) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-c.done
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pid, sid := c.identity()
	if pid == uuid.Nil {
		return nil
	}
	if err := c.store.Leave(ctx, sid, pid); err != nil {
		log.Debug().Err(err).Msg("courtesy leave on close failed")
	}
	return nil
}

// syncLoop keeps exactly one sync mode active: push while the websocket is
// healthy, polling while reconnecting, polling permanently once the
// reconnect budget is spent.
func (c *Controller) syncLoop(ctx context.Context) {
	if c.transport == nil {
		c.setMode(SyncModePolling)
		c.pollFor(ctx, 0)
		return
	}

	attempt := 0
	for {
		if c.config.Backoff.Exhausted(attempt) {
			log.Warn().
				Int("attempts", attempt).
				Msg("reconnect budget exhausted, staying on polling")
			c.setMode(SyncModePolling)
			c.pollFor(ctx, 0)
			return
		}

		stream, err := c.transport.Dial(ctx, c.currentSessionID())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := c.config.Backoff.Delay(attempt)
			attempt++
			log.Warn().Err(err).
				Int("attempt", attempt).
				Dur("retry_in", delay).
				Msg("push connection failed")
			c.setMode(SyncModePolling)
			if !c.pollFor(ctx, delay) {
				return
			}
			continue
		}

		attempt = 0
		c.setMode(SyncModePush)
		c.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn().Msg("push connection lost")
	}
}

// consume applies pushed snapshots until the stream closes or ctx is done.
func (c *Controller) consume(ctx context.Context, stream SnapshotStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-stream.Snapshots():
			if !ok {
				if err := stream.Err(); err != nil {
					log.Debug().Err(err).Msg("snapshot stream closed")
				}
				return
			}
			c.applySnapshot(snapshot)
		}
	}
}

// pollFor fetches snapshots on the poll interval. A zero limit polls until
// ctx is done; otherwise it returns true when the limit elapses.
func (c *Controller) pollFor(ctx context.Context, limit time.Duration) bool {
	ticker := c.clock.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if limit > 0 {
		deadline = c.clock.After(limit)
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return true
		case <-ticker.Chan():
			c.refresh(ctx)
		}
	}
}

// refresh pulls a snapshot directly from the store.
func (c *Controller) refresh(ctx context.Context) {
	snapshot, err := c.store.Snapshot(ctx, c.currentSessionID())
	if err != nil {
		log.Error().Err(err).Msg("snapshot refresh failed")
		return
	}
	c.applySnapshot(snapshot)
}

// applySnapshot installs a snapshot, rebuilds derived state and fires the
// callbacks. The in-progress edge is detected here, exactly once, no matter
// which sync mode delivered the snapshot.
func (c *Controller) applySnapshot(snapshot *models.SessionSnapshot) {
	c.mu.Lock()
	if snapshot.Session.ID != c.sessionID {
		c.mu.Unlock()
		return
	}
	c.snapshot = snapshot

	startEdge := false
	if !c.started && snapshot.Session.Status == models.SessionStatusInProgress {
		c.started = true
		startEdge = true
	}
	state := c.stateLocked()
	c.mu.Unlock()

	if c.config.OnUpdate != nil {
		c.config.OnUpdate(state)
	}
	if startEdge {
		log.Info().
			Str("session_id", state.Session.ID.String()).
			Msg("game started")
		if state.HasJoined {
			c.publish(notify.EventStartGame)
		}
		if c.config.OnStart != nil {
			c.config.OnStart(state)
		}
		// The embedded game owns the experience from here; polling and
		// push both stop.
		c.stopSync()
	}
}

func (c *Controller) stopSync() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) stateLocked() State {
	state := State{Mode: c.mode}
	if c.snapshot == nil {
		return state
	}
	state.Session = c.snapshot.Session
	state.Participants = c.snapshot.Participants
	state.ParticipantCount = len(c.snapshot.Participants)
	state.ReadyCount = c.snapshot.ReadyCount
	if c.participant != nil {
		state.HasJoined = c.snapshot.HasParticipant(c.participant.ID)
		state.IsReady = c.snapshot.ParticipantReady(c.participant.ID)
	}
	return state
}

// setMode is the single transition point between sync modes.
func (c *Controller) setMode(mode SyncMode) {
	c.mu.Lock()
	if c.mode == mode {
		c.mu.Unlock()
		return
	}
	previous := c.mode
	c.mode = mode
	c.mu.Unlock()

	log.Info().
		Str("from", string(previous)).
		Str("to", string(mode)).
		Msg("sync mode changed")
}

func (c *Controller) publish(eventType notify.EventType) {
	if c.notifier == nil {
		return
	}
	c.mu.Lock()
	participant := c.participant
	sid := c.sessionID
	c.mu.Unlock()
	if participant == nil {
		return
	}

	c.notifier.Publish(eventType, notify.Event{
		GameID:         c.config.Game.ID,
		SessionID:      sid,
		ParticipantID:  participant.ID,
		ExternalUserID: participant.ExternalUserID,
	})
}

func (c *Controller) identity() (participantID, sessionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.participant != nil {
		participantID = c.participant.ID
	}
	return participantID, c.sessionID
}

func (c *Controller) currentSessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
