package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(hub *Hub, userID int64, admin bool) *Client {
	return &Client{hub: hub, send: make(chan []byte, 4), UserID: userID, IsAdmin: admin}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, time.Second, 5*time.Millisecond)
}

func TestHub_RoutesEventsToOwnerAndAdmins(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	owner := newTestClient(hub, 7, false)
	stranger := newTestClient(hub, 8, false)
	admin := newTestClient(hub, 1, true)
	hub.Register <- owner
	hub.Register <- stranger
	hub.Register <- admin
	waitForClients(t, hub, 3)

	hub.PublishEvent(7, []byte(`{"event_type":"session_started"}`))

	require.Equal(t, `{"event_type":"session_started"}`, string(<-owner.send))
	require.Equal(t, `{"event_type":"session_started"}`, string(<-admin.send))
	require.Len(t, stranger.send, 0)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	c := newTestClient(hub, 7, false)
	hub.Register <- c
	waitForClients(t, hub, 1)

	hub.Unregister <- c
	waitForClients(t, hub, 0)

	_, ok := <-c.send
	require.False(t, ok)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	c := newTestClient(hub, 7, false)
	hub.Register <- c
	waitForClients(t, hub, 1)

	for i := 0; i < 10; i++ {
		hub.PublishEvent(7, []byte("x"))
	}
	require.Len(t, c.send, cap(c.send))
}
