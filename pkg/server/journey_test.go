package server

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbox/pkg/protocol"
	"postbox/pkg/store"
)

// startTestServer runs a real server over a SQLite store on an ephemeral
// port, so the journey exercises the full stack end to end.
func startTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "postbox.db"))
	require.NoError(t, err)

	config := testConfig()
	config.Server.Host = "127.0.0.1"
	config.Server.Port = 0

	s := NewServer(db, config)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	return s
}

// journeyClient is a minimal protocol client for tests: send one request,
// read one response.
type journeyClient struct {
	t      *testing.T
	conn   net.Conn
	reader *protocol.LineReader
}

func dialJourney(t *testing.T, addr string) *journeyClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &journeyClient{t: t, conn: conn, reader: protocol.NewLineReader(conn)}
}

func (c *journeyClient) roundTrip(req protocol.Request) any {
	c.t.Helper()
	require.NoError(c.t, protocol.EncodeRequest(c.conn, req))

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadLine()
	c.conn.SetReadDeadline(time.Time{})
	require.NoError(c.t, err)

	value, err := protocol.DecodeValue(line)
	require.NoError(c.t, err)
	return value
}

func successResponse(message string) map[string]any {
	return map[string]any{"status": "success", "message": message}
}

func failureResponse(message string) map[string]any {
	return map[string]any{"status": "failure", "message": message}
}

func TestJourney(t *testing.T) {
	s := startTestServer(t)

	client := dialJourney(t, s.Addr())

	// Account setup
	assert.Equal(t, successResponse("You have created new account named user1."),
		client.roundTrip(protocol.SignupRequest{Username: "user1", Password: "pw1", Role: "user"}))
	assert.Equal(t, successResponse("You have created new account named user2."),
		client.roundTrip(protocol.SignupRequest{Username: "user2", Password: "pw2", Role: "user"}))
	assert.Equal(t, failureResponse("User with that name already exists."),
		client.roundTrip(protocol.SignupRequest{Username: "user1", Password: "other", Role: "user"}))

	// Authentication
	assert.Equal(t, failureResponse("Invalid username or password."),
		client.roundTrip(protocol.LoginRequest{Username: "user1", Password: "wrong"}))
	assert.Equal(t, successResponse("User user1 logged in."),
		client.roundTrip(protocol.LoginRequest{Username: "user1", Password: "pw1"}))
	assert.Equal(t, failureResponse("You are logged in as user1."),
		client.roundTrip(protocol.LoginRequest{Username: "user2", Password: "pw2"}))

	// Messaging
	assert.Equal(t, successResponse("The message has been sent to user2."),
		client.roundTrip(protocol.SendRequest{Recipient: "user2", Content: "hello"}))
	assert.Equal(t, failureResponse("There is no such user as ghost."),
		client.roundTrip(protocol.SendRequest{Recipient: "ghost", Content: "hello"}))
	assert.Equal(t, failureResponse("Message is too long."),
		client.roundTrip(protocol.SendRequest{Recipient: "user2", Content: strings.Repeat("x", 256)}))

	// The sender's own inbox is empty
	assert.Equal(t, map[string]any{"message": "You don't have any messages."},
		client.roundTrip(protocol.ReadRequest{}))

	assert.Equal(t, successResponse("User user1 logged out."),
		client.roundTrip(protocol.LogoutRequest{}))

	// A second connection gets its own session
	client2 := dialJourney(t, s.Addr())
	assert.Equal(t, successResponse("User user2 logged in."),
		client2.roundTrip(protocol.LoginRequest{Username: "user2", Password: "pw2"}))
	assert.Equal(t, []any{map[string]any{"sender": "user1", "message": "hello"}},
		client2.roundTrip(protocol.ReadRequest{}))

	// Utility commands
	value := client.roundTrip(protocol.HelpRequest{})
	help, ok := value.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, help, "send")
	assert.Contains(t, help, "read")

	value = client.roundTrip(protocol.UptimeRequest{})
	uptime, ok := value.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, uptime, "uptime")

	value = client.roundTrip(protocol.InfoRequest{})
	info, ok := value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, Version, info["version"])

	// stop terminates exactly this connection
	assert.Equal(t, protocol.StopSentinel, client.roundTrip(protocol.StopRequest{}))
	client.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := client.reader.ReadLine()
	assert.ErrorIs(t, err, io.EOF)

	// The other connection is unaffected
	assert.Equal(t, successResponse("User user2 logged out."),
		client2.roundTrip(protocol.LogoutRequest{}))
}

func TestJourneyWrongCommand(t *testing.T) {
	s := startTestServer(t)

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	reader := protocol.NewLineReader(conn)

	for _, line := range []string{
		`{"command": "teleport"}`,
		`this is not json`,
	} {
		_, err = conn.Write([]byte(line + "\n"))
		require.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		response, err := reader.ReadLine()
		require.NoError(t, err)
		assert.JSONEq(t, `"Wrong command"`, string(response))
	}

	// The connection keeps serving after bad input
	require.NoError(t, protocol.EncodeRequest(conn, protocol.HelpRequest{}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = reader.ReadLine()
	assert.NoError(t, err)
}

func TestJourneyAdminRead(t *testing.T) {
	s := startTestServer(t)

	client := dialJourney(t, s.Addr())
	client.roundTrip(protocol.SignupRequest{Username: "user1", Password: "pw", Role: "user"})
	client.roundTrip(protocol.SignupRequest{Username: "user2", Password: "pw", Role: "user"})
	client.roundTrip(protocol.SignupRequest{Username: "boss", Password: "pw", Role: "admin"})
	client.roundTrip(protocol.LoginRequest{Username: "user1", Password: "pw"})
	client.roundTrip(protocol.SendRequest{Recipient: "user2", Content: "psst"})
	client.roundTrip(protocol.LogoutRequest{})

	client.roundTrip(protocol.LoginRequest{Username: "boss", Password: "pw"})
	assert.Equal(t, []any{map[string]any{"sender": "user1", "receiver": "user2", "message": "psst"}},
		client.roundTrip(protocol.ReadRequest{}))
}

func TestWebSocketTransport(t *testing.T) {
	db := store.NewMemStore()
	s := NewServer(db, testConfig())

	httpServer := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	roundTrip := func(line string) string {
		t.Helper()
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(line)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		return string(data)
	}

	assert.JSONEq(t, `{"status": "success", "message": "You have created new account named user1."}`,
		roundTrip(`{"command": "signup", "username": "user1", "password": "pw", "role": "user"}`))
	assert.JSONEq(t, `{"status": "success", "message": "User user1 logged in."}`,
		roundTrip(`{"command": "login", "username": "user1", "password": "pw"}`))
	assert.JSONEq(t, `{"message": "You don't have any messages."}`,
		roundTrip(`{"command": "read"}`))
	assert.JSONEq(t, `"Wrong command"`,
		roundTrip(`{"command": "fly"}`))
	assert.JSONEq(t, `"stop"`,
		roundTrip(`{"command": "stop"}`))
}
