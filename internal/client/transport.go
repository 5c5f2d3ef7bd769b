package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/meetplay/lobby/internal/models"
	"github.com/rs/zerolog/log"
)

// Wire framing shared with the gateway: pushed snapshots carry a textual
// prefix, keepalive is a bare "ping"/"pong" exchange.
const (
	snapshotFramePrefix = "session_update:"
	pingFrame           = "ping"
	pongFrame           = "pong"
)

// SnapshotStream is one live subscription to a session's snapshot feed. The
// channel closes when the connection dies; Err then reports why.
type SnapshotStream interface {
	Snapshots() <-chan *models.SessionSnapshot
	Err() error
	Close() error
}

// Transport opens snapshot subscriptions. The production implementation
// dials the gateway websocket; tests substitute fakes.
type Transport interface {
	Dial(ctx context.Context, sessionID uuid.UUID) (SnapshotStream, error)
}

// WebsocketTransport dials the gateway's /ws/sessions/{id} endpoint.
type WebsocketTransport struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewWebsocketTransport creates a transport for a gateway base URL such as
// "ws://localhost:8080".
func NewWebsocketTransport(baseURL string) *WebsocketTransport {
	return &WebsocketTransport{
		baseURL: baseURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (t *WebsocketTransport) Dial(ctx context.Context, sessionID uuid.UUID) (SnapshotStream, error) {
	endpoint, err := url.JoinPath(t.baseURL, "ws", "sessions", sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}

	conn, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	stream := &wsStream{
		conn:      conn,
		snapshots: make(chan *models.SessionSnapshot, 16),
	}
	go stream.readLoop()
	return stream, nil
}

type wsStream struct {
	conn      *websocket.Conn
	snapshots chan *models.SessionSnapshot

	mu  sync.Mutex
	err error
}

func (s *wsStream) Snapshots() <-chan *models.SessionSnapshot {
	return s.snapshots
}

func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

// readLoop decodes incoming frames until the connection fails. Pings are
// answered inline; unknown frames are logged and skipped.
func (s *wsStream) readLoop() {
	defer close(s.snapshots)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}

		switch {
		case string(message) == pingFrame:
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(pongFrame)); err != nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				return
			}

		case bytes.HasPrefix(message, []byte(snapshotFramePrefix)):
			var snapshot models.SessionSnapshot
			if err := json.Unmarshal(message[len(snapshotFramePrefix):], &snapshot); err != nil {
				log.Error().Err(err).Msg("failed to decode snapshot frame")
				continue
			}
			select {
			case s.snapshots <- &snapshot:
			default:
				// Reader is behind; drop the oldest so the latest wins.
				select {
				case <-s.snapshots:
				default:
				}
				s.snapshots <- &snapshot
			}

		default:
			log.Debug().Str("message", string(message)).Msg("ignoring unexpected frame")
		}
	}
}
