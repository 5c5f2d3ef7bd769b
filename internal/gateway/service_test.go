package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/meetplay/lobby/internal/gateway"
	"github.com/meetplay/lobby/internal/models"
	"github.com/meetplay/lobby/internal/session"
	"github.com/meetplay/lobby/internal/session/memory"
)

type testServer struct {
	server      *httptest.Server
	app         *session.App
	connections *gateway.ConnectionManager
	cancel      context.CancelFunc
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clock := clockwork.NewRealClock()
	connections := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	app := session.NewApp(memory.NewRepository(clock), connections, session.Config{DefaultMinPlayers: 2}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	go connections.Start(ctx)

	mux := http.NewServeMux()
	gateway.NewService(app, connections).RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &testServer{server: server, app: app, connections: connections, cancel: cancel}
}

func (ts *testServer) request(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestLobbyAPIFlow(t *testing.T) {
	ts := newTestServer(t)

	var meeting models.Meeting
	if code := ts.request(t, http.MethodPost, "/api/meetings", map[string]any{"total_participants": 3}, &meeting); code != http.StatusCreated {
		t.Fatalf("create meeting: status %d", code)
	}

	var fetched models.Meeting
	if code := ts.request(t, http.MethodGet, "/api/meetings/"+meeting.ID.String(), nil, &fetched); code != http.StatusOK {
		t.Fatalf("get meeting: status %d", code)
	}
	if fetched.TotalParticipants != 3 {
		t.Fatalf("total_participants = %d, want 3", fetched.TotalParticipants)
	}

	var participant models.Participant
	code := ts.request(t, http.MethodPost, "/api/meetings/"+meeting.ID.String()+"/participants",
		map[string]any{"external_user_id": "tg-9", "display_name": "Bea"}, &participant)
	if code != http.StatusOK {
		t.Fatalf("resolve participant: status %d", code)
	}

	var sess models.Session
	code = ts.request(t, http.MethodPost, "/api/sessions",
		map[string]any{"meeting_id": meeting.ID, "game_id": "trivia"}, &sess)
	if code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	if sess.Status != models.SessionStatusWaiting {
		t.Fatalf("session status = %s, want WAITING", sess.Status)
	}

	var active models.Session
	query := fmt.Sprintf("/api/sessions?meeting_id=%s&game_id=trivia", meeting.ID)
	if code := ts.request(t, http.MethodGet, query, nil, &active); code != http.StatusOK {
		t.Fatalf("active session lookup: status %d", code)
	}
	if active.ID != sess.ID {
		t.Fatalf("active session = %s, want %s", active.ID, sess.ID)
	}

	code = ts.request(t, http.MethodPost, "/api/sessions/"+sess.ID.String()+"/join",
		map[string]any{"participant_id": participant.ID}, nil)
	if code != http.StatusNoContent {
		t.Fatalf("join: status %d", code)
	}

	var snapshot models.SessionSnapshot
	if code := ts.request(t, http.MethodGet, "/api/sessions/"+sess.ID.String()+"/snapshot", nil, &snapshot); code != http.StatusOK {
		t.Fatalf("snapshot: status %d", code)
	}
	if len(snapshot.Participants) != 1 || !snapshot.HasParticipant(participant.ID) {
		t.Fatalf("snapshot participants = %+v", snapshot.Participants)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	missing := "/api/meetings/6a6e2f3a-1111-2222-3333-444455556666"
	if code := ts.request(t, http.MethodGet, missing, nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown meeting: status %d, want 404", code)
	}

	var meeting models.Meeting
	ts.request(t, http.MethodPost, "/api/meetings", map[string]any{"total_participants": 0}, &meeting)

	// No active session yet.
	query := fmt.Sprintf("/api/sessions?meeting_id=%s&game_id=trivia", meeting.ID)
	if code := ts.request(t, http.MethodGet, query, nil, nil); code != http.StatusNotFound {
		t.Fatalf("no active session: status %d, want 404", code)
	}

	// Empty identity is a client error.
	code := ts.request(t, http.MethodPost, "/api/meetings/"+meeting.ID.String()+"/participants",
		map[string]any{"external_user_id": ""}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("empty identity: status %d, want 400", code)
	}

	var sess models.Session
	ts.request(t, http.MethodPost, "/api/sessions", map[string]any{"meeting_id": meeting.ID, "game_id": "trivia"}, &sess)
	ts.request(t, http.MethodPatch, "/api/sessions/"+sess.ID.String()+"/status",
		map[string]any{"status": models.SessionStatusCompleted}, nil)

	// Completed sessions cannot restart.
	code = ts.request(t, http.MethodPatch, "/api/sessions/"+sess.ID.String()+"/status",
		map[string]any{"status": models.SessionStatusInProgress}, nil)
	if code != http.StatusConflict {
		t.Fatalf("reopen completed: status %d, want 409", code)
	}
}

func TestWebsocketPushesSnapshotFrames(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)

	meeting, err := ts.app.CreateMeeting(ctx, 4)
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	sess, err := ts.app.CreateWaitingSession(ctx, meeting.ID, "trivia")
	if err != nil {
		t.Fatalf("CreateWaitingSession: %v", err)
	}
	participant, err := ts.app.GetOrCreateParticipant(ctx, meeting.ID, "tg-1", "Ann")
	if err != nil {
		t.Fatalf("GetOrCreateParticipant: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws/sessions/" + sess.ID.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the subscription to register before mutating.
	deadline := time.Now().Add(2 * time.Second)
	for ts.connections.ConnectionCount(sess.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ts.app.Join(ctx, sess.ID, participant.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	const prefix = "session_update:"
	if !strings.HasPrefix(string(frame), prefix) {
		t.Fatalf("frame missing prefix: %q", frame)
	}
	var snapshot models.SessionSnapshot
	if err := json.Unmarshal(frame[len(prefix):], &snapshot); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if snapshot.Session.ID != sess.ID || len(snapshot.Participants) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestWebsocketRejectsUnknownSession(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws/sessions/6a6e2f3a-1111-2222-3333-444455556666"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v, want 404", resp)
	}
}
