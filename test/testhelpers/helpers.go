// Package testhelpers starts an in-process relay and drives WebSocket
// clients against it for the integration tests.
package testhelpers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/hub"
	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

// TestOrigin is the Origin header every helper dial sends.
const TestOrigin = "http://localhost:8080"

// ReadTimeout bounds every expected read.
const ReadTimeout = 2 * time.Second

// Relay is a running relay backed by an in-memory store.
type Relay struct {
	URL    string
	WSURL  string
	Hub    *hub.Hub
	Server *server.Server
	Store  *store.MemoryStore
	HTTP   *httptest.Server
}

// SeedStore has alice, bob, carol and dave; conversation c1 between alice
// and bob; group g1 with alice, bob and carol.
func SeedStore() *store.MemoryStore {
	s := store.NewMemoryStore()
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		s.PutUser(store.User{ID: id, Username: id, DisplayName: strings.ToUpper(id[:1]) + id[1:]})
	}
	s.PutConversation(store.Conversation{ID: "c1", ParticipantIDs: [2]string{"alice", "bob"}})
	s.PutGroup(store.Group{ID: "g1", Name: "team", MemberIDs: []string{"alice", "bob", "carol"}})
	return s
}

// StartRelay starts a relay over SeedStore. mutate may adjust the config.
// Everything is torn down when the test ends.
func StartRelay(t *testing.T, mutate func(*server.Config)) *Relay {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	cfg.Presence.BroadcastUserList = false
	if mutate != nil {
		mutate(&cfg)
	}

	mem := SeedStore()
	relay := hub.New(hub.Deps{
		Directory: mem,
		Users:     mem,
		Presence:  mem,
		Logger:    zerolog.Nop(),
	}, cfg.HubOptions())
	srv := server.New(cfg, relay, zerolog.Nop(), nil)
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})

	return &Relay{
		URL:    ts.URL,
		WSURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		Hub:    relay,
		Server: srv,
		Store:  mem,
		HTTP:   ts,
	}
}

// Dial opens a WebSocket with the test origin.
func Dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, err := DialWithOrigin(wsURL, TestOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWithOrigin opens a WebSocket with the given Origin header. An empty
// origin sends none.
func DialWithOrigin(wsURL, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil && resp != nil {
		return nil, &DialError{Status: resp.StatusCode, Err: err}
	}
	return conn, err
}

// DialError carries the handshake status of a refused dial.
type DialError struct {
	Status int
	Err    error
}

func (e *DialError) Error() string { return e.Err.Error() }

func (e *DialError) Unwrap() error { return e.Err }

// Send writes one event frame.
func Send(t *testing.T, conn *websocket.Conn, typ protocol.Type, data any) {
	t.Helper()
	payload, err := protocol.Encode(typ, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// Connect dials, authenticates as userID and consumes the userList reply.
func Connect(t *testing.T, r *Relay, userID string) *websocket.Conn {
	t.Helper()
	conn := Dial(t, r.WSURL)
	Send(t, conn, protocol.TypeAuth, protocol.Auth{UserID: userID})
	ExpectFrame(t, conn, protocol.TypeUserList)
	return conn
}

// ReadFrame reads the next frame within ReadTimeout.
func ReadFrame(conn *websocket.Conn) (protocol.Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return protocol.Frame{}, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	var f protocol.Frame
	err = json.Unmarshal(raw, &f)
	return f, err
}

// ExpectFrame reads until a frame of type typ arrives and returns its data.
// Frames of other types are skipped.
func ExpectFrame(t *testing.T, conn *websocket.Conn, typ protocol.Type) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(ReadTimeout)
	for time.Now().Before(deadline) {
		f, err := ReadFrame(conn)
		require.NoError(t, err, "waiting for %s", typ)
		if f.Type == typ {
			return f.Data
		}
	}
	t.Fatalf("no %s frame within %s", typ, ReadTimeout)
	return nil
}

// ExpectStatus waits for a userStatus frame about userID.
func ExpectStatus(t *testing.T, conn *websocket.Conn, userID string) protocol.UserStatus {
	t.Helper()
	deadline := time.Now().Add(ReadTimeout)
	for time.Now().Before(deadline) {
		var status protocol.UserStatus
		require.NoError(t, json.Unmarshal(ExpectFrame(t, conn, protocol.TypeUserStatus), &status))
		if status.UserID == userID {
			return status
		}
	}
	t.Fatalf("no userStatus for %s within %s", userID, ReadTimeout)
	return protocol.UserStatus{}
}

// ExpectNoFrame fails if a frame of type typ arrives within wait. A read
// timeout leaves the connection unusable, so call it last on conn.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, typ protocol.Type, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			t.Fatalf("unexpected read error: %v", err)
		}
		var f protocol.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Type == typ {
			t.Fatalf("unexpected %s frame: %s", typ, f.Data)
		}
	}
}

// ExpectClosed waits for the server to close conn.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ReadTimeout)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatal("connection still open")
			}
			return
		}
	}
}

// PostJSON posts body to path on the relay.
func PostJSON(t *testing.T, r *Relay, path, body string) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(r.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
