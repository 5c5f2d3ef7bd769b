// Package notify publishes lobby events to NATS for the chat collaborator
// (the bot that posts "X started a game" style messages). Publishing is fire
// and forget: a broken broker never fails a lobby action.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// EventType identifies a lobby event on the wire.
type EventType string

const (
	EventJoinGame  EventType = "join_game"
	EventLeaveGame EventType = "leave_game"
	EventStartGame EventType = "start_game"
)

const subjectPrefix = "lobby.events."

// Event is the payload carried inside the envelope.
type Event struct {
	GameID         string    `json:"game_id"`
	SessionID      uuid.UUID `json:"session_id"`
	ParticipantID  uuid.UUID `json:"participant_id"`
	ExternalUserID string    `json:"external_user_id"`
}

type envelope struct {
	EventID   string          `json:"eventId"`
	EventType EventType       `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher sends lobby events over a NATS connection.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials NATS with reconnect handling and returns a publisher. The
// caller owns the connection via Close.
func Connect(natsURL string) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Publisher{nc: nc}, nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// Publish emits one event to lobby.events.<type>. Errors are logged, never
// returned: notification delivery must not affect the lobby flow.
func (p *Publisher) Publish(eventType EventType, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event payload")
		return
	}

	data, err := json.Marshal(envelope{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event envelope")
		return
	}

	subject := subjectPrefix + string(eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).
			Str("subject", subject).
			Str("session_id", event.SessionID.String()).
			Msg("failed to publish lobby event")
		return
	}

	log.Debug().
		Str("subject", subject).
		Str("session_id", event.SessionID.String()).
		Str("participant_id", event.ParticipantID.String()).
		Msg("lobby event published")
}

// Close flushes and closes the underlying connection.
func (p *Publisher) Close() {
	if err := p.nc.Flush(); err != nil {
		log.Error().Err(err).Msg("failed to flush NATS connection")
	}
	p.nc.Close()
}
