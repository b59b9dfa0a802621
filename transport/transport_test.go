package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(nil)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	return srv, wsURL
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestClientServerConnectAndEventRoundTrip(t *testing.T) {
	srv, wsURL := startTestServer(t)

	client := NewClient(wsURL, nil)
	require.NoError(t, client.Connect())
	defer client.Close()

	var connID ConnID
	waitFor(t, func() bool {
		connected, _, _ := srv.Pump()
		if len(connected) > 0 {
			connID = connected[0]
			return true
		}
		return false
	})

	require.NoError(t, client.Send(NewEvent("ATTEMPT_LOGIN").With("username", "alice").With("password_hash", "H1")))

	var received ConnEvent
	waitFor(t, func() bool {
		_, events, _ := srv.Pump()
		if len(events) > 0 {
			received = events[0]
			return true
		}
		return false
	})
	assert.Equal(t, connID, received.Conn)
	assert.Equal(t, "ATTEMPT_LOGIN", received.Event.Tag)
	assert.Equal(t, "alice", received.Event.Fields["username"])

	require.NoError(t, srv.Send(connID, NewEvent("LOGIN_RESULT").With("success", true)))

	waitFor(t, func() bool {
		events, _ := client.Pump()
		return len(events) > 0 && events[0].Tag == "LOGIN_RESULT"
	})
}

func TestServerDetectsDisconnect(t *testing.T) {
	srv, wsURL := startTestServer(t)

	client := NewClient(wsURL, nil)
	require.NoError(t, client.Connect())

	waitFor(t, func() bool {
		connected, _, _ := srv.Pump()
		return len(connected) > 0
	})

	require.NoError(t, client.Close())

	waitFor(t, func() bool {
		_, _, disconnected := srv.Pump()
		return len(disconnected) > 0
	})
}

func TestSendToUnknownConnIsNotAnError(t *testing.T) {
	srv, _ := startTestServer(t)
	err := srv.Send(ConnID(99999), NewEvent("NOOP"))
	assert.NoError(t, err)
}
