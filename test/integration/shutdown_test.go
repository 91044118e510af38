package integration

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatwire/test/testhelpers"
)

func TestGracefulShutdownClosesConnections(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})

	alice := backend.Signup(t, "Alice Example", testhelpers.UniqueEmail("alice"), "password123")
	bob := backend.Signup(t, "Bob Example", testhelpers.UniqueEmail("bob"), "password123")

	aliceConn, _ := backend.Connect(t, alice)
	bobConn, _ := backend.Connect(t, bob)
	require.Equal(t, 2, backend.Hub.Registry().Len())

	require.NoError(t, backend.Hub.Shutdown(5*time.Second))
	assert.Equal(t, 0, backend.Hub.Registry().Len())

	// Every client observes its connection going away.
	require.NoError(t, aliceConn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := aliceConn.ReadMessage()
	assert.Error(t, err)

	require.NoError(t, bobConn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = bobConn.ReadMessage()
	assert.Error(t, err)
}

func TestShutdownWithoutConnections(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})
	require.NoError(t, backend.Hub.Shutdown(time.Second))
}

func TestIdleSweepDisconnectsStaleClients(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{
		IdleTimeout:   200 * time.Millisecond,
		SweepInterval: 50 * time.Millisecond,
	})

	alice := backend.Signup(t, "Alice Example", testhelpers.UniqueEmail("alice"), "password123")
	conn, _ := backend.Connect(t, alice)

	// Going quiet past the idle timeout gets the connection reclaimed.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "idle connection gets reclaimed by the sweep")

	assert.Eventually(t, func() bool {
		return backend.Hub.Registry().Len() == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestKeepaliveResponsiveClientSurvivesIdleSweep(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{
		IdleTimeout:   400 * time.Millisecond,
		SweepInterval: 50 * time.Millisecond,
	})

	alice := backend.Signup(t, "Alice Example", testhelpers.UniqueEmail("alice"), "password123")
	conn, _ := backend.Connect(t, alice)

	// A client sending no application traffic but answering keepalives spans
	// several idle windows without being reclaimed.
	deadline := time.Now().Add(1200 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)))
		time.Sleep(100 * time.Millisecond)
	}

	assert.Equal(t, 1, backend.Hub.Registry().Len(), "keepalive traffic counts as activity")
}
