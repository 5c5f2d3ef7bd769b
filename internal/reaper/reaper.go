// Package reaper retires waiting sessions that have gone quiet. A session
// whose last activity is older than the threshold gets its participants
// cleared and its status set to completed, freeing the meeting/game pair for
// a fresh lobby.
package reaper

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meetplay/lobby/internal/session"
	"github.com/rs/zerolog/log"
)

const (
	DefaultThreshold    = 10 * time.Minute
	DefaultScanInterval = time.Minute
	DefaultBatchSize    = 100
)

// Config tunes one reaper instance. Zero values fall back to the defaults.
type Config struct {
	// Threshold is how long a waiting session may sit without activity.
	Threshold time.Duration
	// ScanInterval is how often the reaper looks for stale sessions.
	ScanInterval time.Duration
	// BatchSize caps how many sessions one scan retires.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Reaper periodically scans for stale waiting sessions and retires them.
type Reaper struct {
	app    *session.App
	clock  clockwork.Clock
	config Config
}

func New(app *session.App, clock clockwork.Clock, config Config) *Reaper {
	return &Reaper{
		app:    app,
		clock:  clock,
		config: config.withDefaults(),
	}
}

// Run blocks scanning on the configured interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	log.Info().
		Dur("threshold", r.config.Threshold).
		Dur("scan_interval", r.config.ScanInterval).
		Msg("inactivity reaper started")

	ticker := r.clock.NewTicker(r.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("inactivity reaper shutting down")
			return ctx.Err()
		case <-ticker.Chan():
			if retired, err := r.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("reaper scan failed")
			} else if retired > 0 {
				log.Info().Int("retired", retired).Msg("reaper scan retired sessions")
			}
		}
	}
}

// RunOnce performs a single scan and returns how many sessions it retired.
// Each retirement is independent: one failure does not stop the batch.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.config.Threshold)

	stale, err := r.app.StaleWaitingSessions(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		return 0, err
	}

	retired := 0
	for _, sess := range stale {
		if err := r.app.RetireSession(ctx, sess.ID); err != nil {
			log.Error().Err(err).
				Str("session_id", sess.ID.String()).
				Msg("failed to retire stale session")
			continue
		}
		log.Info().
			Str("session_id", sess.ID.String()).
			Time("last_activity", sess.LastActivity).
			Msg("retired stale waiting session")
		retired++
	}
	return retired, nil
}
