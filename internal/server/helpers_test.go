package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/namerelay/internal/registry"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	frameTimeout  = 2 * time.Second
	quietInterval = 100 * time.Millisecond
	testOrigin    = "http://localhost:7070"
)

// newTestHub starts a hub over a fresh registry and stops it when the test ends.
func newTestHub(t *testing.T, mutate func(*Config)) (*Hub, *registry.Registry) {
	t.Helper()

	cfg := NewConfig()
	if mutate != nil {
		mutate(cfg)
	}
	names := registry.New(clockwork.NewFakeClock(), cfg.ClaimTTL, cfg.MaxNameLength)
	hub := NewHub(names, cfg, nil, nil)
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })
	return hub, names
}

// admitNamed registers and redeems name, then admits a connectionless client for it.
func admitNamed(t *testing.T, hub *Hub, names *registry.Registry, name string) *Client {
	t.Helper()

	claim, err := names.Register(name)
	require.NoError(t, err)
	_, err = names.Redeem(claim.Token)
	require.NoError(t, err)

	client := NewClient(nil, hub, claim.Name, "test:"+name)
	require.NoError(t, hub.Admit(client))
	return client
}

func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()

	select {
	case frame, ok := <-c.send:
		require.True(t, ok, "queue of %s closed", c.name)
		return frame
	case <-time.After(frameTimeout):
		t.Fatalf("timed out waiting for a frame on %s", c.name)
		return Frame{}
	}
}

func nextRoster(t *testing.T, c *Client) []string {
	t.Helper()

	frame := nextFrame(t, c)
	var roster []string
	require.NoError(t, json.Unmarshal(frame.Data, &roster), "frame %q is not a roster", frame.Data)
	return roster
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()

	select {
	case frame, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame on %s: %q", c.name, frame.Data)
		}
	case <-time.After(quietInterval):
	}
}

func expectClosed(t *testing.T, c *Client) {
	t.Helper()

	deadline := time.After(frameTimeout)
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("queue of %s was not closed", c.name)
		}
	}
}

func drain(c *Client) {
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// newTestServer serves the full router over a fresh hub.
func newTestServer(t *testing.T, mutate func(*Config)) (*httptest.Server, *Hub, *registry.Registry) {
	t.Helper()

	cfg := NewConfig()
	if mutate != nil {
		mutate(cfg)
	}
	names := registry.New(clockwork.NewRealClock(), cfg.ClaimTTL, cfg.MaxNameLength)
	hub := NewHub(names, cfg, nil, nil)
	go hub.Run()

	srv := httptest.NewServer(SetupRoutes(NewHandlers(cfg, names, hub), nil))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Shutdown(time.Second)
	})
	return srv, hub, names
}

// registerName posts name to /users and returns the claim token.
func registerName(t *testing.T, baseURL, name string) string {
	t.Helper()

	body, err := json.Marshal(map[string]string{"name": name})
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/users", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	token := resp.Header.Get(ClaimTokenHeader)
	require.NotEmpty(t, token)
	return token
}

func wsURL(baseURL, token string) string {
	u := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// dialWebSocket connects with the test origin and returns the handshake response.
func dialWebSocket(rawURL, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(rawURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func connect(t *testing.T, baseURL, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := dialWebSocket(wsURL(baseURL, token), testOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(frameTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return messageType, data
}

func readRoster(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()

	_, data := readFrame(t, conn)
	var roster []string
	require.NoError(t, json.Unmarshal(data, &roster), "frame %q is not a roster", data)
	return roster
}
