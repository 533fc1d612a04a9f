package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standhub/models"
	"standhub/utils"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(utils.NewLogger("development"))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newTestClient(buffer int) *Client {
	return &Client{
		send:   make(chan []byte, buffer),
		userID: "u1",
		rooms:  make(map[string]bool),
		joined: make(map[string]bool),
	}
}

func receiveEnvelope(t *testing.T, c *Client) models.Envelope {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed unexpectedly")
		var env models.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return models.Envelope{}
	}
}

func TestBroadcastReachesRoomMembersOnly(t *testing.T) {
	hub := startHub(t)

	member := newTestClient(4)
	other := newTestClient(4)
	hub.register <- member
	hub.register <- other
	hub.join <- membershipOp{client: member, room: "team_3_7"}
	hub.join <- membershipOp{client: other, room: "team_3_8"}

	scope := models.RoomKey{CompanyID: "3", TeamID: "7"}
	hub.Broadcast("team_3_7", models.Envelope{Type: models.EventActivity, Scope: &scope})

	env := receiveEnvelope(t, member)
	assert.Equal(t, models.EventActivity, env.Type)

	select {
	case <-other.send:
		t.Fatal("client outside the room received the broadcast")
	default:
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub := startHub(t)

	c := newTestClient(4)
	hub.register <- c
	hub.join <- membershipOp{client: c, room: "team_3_7"}
	hub.leave <- membershipOp{client: c, room: "team_3_7"}

	hub.Broadcast("team_3_7", models.Envelope{Type: models.EventActivity})

	// Give the hub a chance to (wrongly) deliver
	time.Sleep(20 * time.Millisecond)
	select {
	case <-c.send:
		t.Fatal("client received a broadcast after leaving the room")
	default:
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	hub := startHub(t)

	c := newTestClient(4)
	hub.register <- c
	hub.join <- membershipOp{client: c, room: "team_3_7"}
	hub.unregister <- c

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed on unregister")
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := startHub(t)

	slow := newTestClient(1)
	hub.register <- slow
	hub.join <- membershipOp{client: slow, room: "team_3_7"}

	// The first broadcast fills the buffer; the second overflows it and the
	// client is dropped
	hub.Broadcast("team_3_7", models.Envelope{Type: models.EventActivity})
	hub.Broadcast("team_3_7", models.Envelope{Type: models.EventActivity})

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	// A further broadcast to the now-empty room must not panic
	hub.Broadcast("team_3_7", models.Envelope{Type: models.EventActivity})
}
