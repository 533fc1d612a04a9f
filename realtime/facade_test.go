package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standhub/config"
	"standhub/models"
)

func testFacade(dialer Dialer) *Facade {
	return New(Options{
		Dialer: dialer,
		Client: fastConfig(),
		Store:  StoreConfig{DefaultToastTTL: time.Minute},
	})
}

func mustEnvelope(t *testing.T, eventType string, scope *models.RoomKey, payload interface{}) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(eventType, scope, payload)
	require.NoError(t, err)
	return env
}

func commandsOfType(envs []models.Envelope, commandType string) []models.Envelope {
	var matched []models.Envelope
	for _, env := range envs {
		if env.Type == commandType {
			matched = append(matched, env)
		}
	}
	return matched
}

func waitConnected(t *testing.T, f *Facade) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.Connected()
	}, time.Second, time.Millisecond)
}

// The full reconnect round trip: a join issued while disconnected is asserted
// once on connect, state accumulates, the transport drops, and the rejoin
// after reconnect is asserted exactly once more with the accumulated state
// intact.
func TestJoinSurvivesReconnect(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}

	f := testFacade(dialer)
	defer f.Close()

	// Joining before the channel is up defers the command
	f.JoinTeam("7", "3")
	assert.Empty(t, first.written())

	f.Connect(context.Background())
	waitConnected(t, f)

	require.Eventually(t, func() bool {
		return len(commandsOfType(first.written(), models.CommandJoin)) == 1
	}, time.Second, time.Millisecond)

	joins := commandsOfType(first.written(), models.CommandJoin)
	assert.Equal(t, models.RoomKey{CompanyID: "3", TeamID: "7"}, *joins[0].Scope)

	// Accumulate state before the drop
	first.push(mustEnvelope(t, models.EventPresence, nil, models.PresencePayload{
		Users: []models.PresenceEntry{
			{UserID: "u1", UserName: "alice", JoinedAt: time.Now()},
			{UserID: "u2", UserName: "bob", JoinedAt: time.Now()},
		},
	}))
	first.push(mustEnvelope(t, models.EventActivity, nil, models.ActivityEvent{
		ID:           "a1",
		ActivityType: models.ActivityStandup,
		UserName:     "alice",
		Timestamp:    time.Now(),
	}))

	require.Eventually(t, func() bool {
		return len(f.OnlineUsers()) == 2 && len(f.RecentActivity()) == 1
	}, time.Second, time.Millisecond)

	// Transport drop and automatic reconnect
	first.Close()
	require.Eventually(t, func() bool {
		return f.Connected() && dialer.dialCount() == 2
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return len(commandsOfType(second.written(), models.CommandJoin)) == 1
	}, time.Second, time.Millisecond)

	rejoins := commandsOfType(second.written(), models.CommandJoin)
	assert.Equal(t, models.RoomKey{CompanyID: "3", TeamID: "7"}, *rejoins[0].Scope)

	// State accumulated before the drop is untouched
	assert.Len(t, f.OnlineUsers(), 2)
	assert.Len(t, f.RecentActivity(), 1)
}

func TestSwitchingTeamsLeavesThenJoins(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	f := testFacade(dialer)
	defer f.Close()

	f.Connect(context.Background())
	waitConnected(t, f)

	f.JoinTeam("7", "3")
	require.Eventually(t, func() bool {
		return len(conn.written()) == 1
	}, time.Second, time.Millisecond)

	// Room-scoped state from the first team
	conn.push(mustEnvelope(t, models.EventPresence, nil, models.PresencePayload{
		Users: []models.PresenceEntry{{UserID: "u1", UserName: "alice"}},
	}))
	require.Eventually(t, func() bool {
		return len(f.OnlineUsers()) == 1
	}, time.Second, time.Millisecond)

	f.JoinTeam("8", "3")

	writes := conn.written()
	require.Len(t, writes, 3)
	assert.Equal(t, models.CommandLeave, writes[1].Type)
	assert.Equal(t, models.RoomKey{CompanyID: "3", TeamID: "7"}, *writes[1].Scope)
	assert.Equal(t, models.CommandJoin, writes[2].Type)
	assert.Equal(t, models.RoomKey{CompanyID: "3", TeamID: "8"}, *writes[2].Scope)

	// The switch drops the previous room's presence
	assert.Empty(t, f.OnlineUsers())
}

func TestLeaveTeamClearsRoomState(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	f := testFacade(dialer)
	defer f.Close()

	f.Connect(context.Background())
	waitConnected(t, f)

	f.JoinTeam("7", "3")
	conn.push(mustEnvelope(t, models.EventPresence, nil, models.PresencePayload{
		Users: []models.PresenceEntry{{UserID: "u1", UserName: "alice"}},
	}))
	require.Eventually(t, func() bool {
		return f.TeamOnlineCount() == 1
	}, time.Second, time.Millisecond)

	f.LeaveTeam("7", "3")

	leaves := commandsOfType(conn.written(), models.CommandLeave)
	require.Len(t, leaves, 1)
	assert.Empty(t, f.OnlineUsers())
	assert.Equal(t, 0, f.TeamOnlineCount())
}

func TestTeamOnlineCountIsZeroWithoutARoom(t *testing.T) {
	f := testFacade(&fakeDialer{})
	defer f.Close()

	// Presence can arrive on the company room without a joined team room
	f.store.ApplyPresence(models.PresencePayload{
		Users: []models.PresenceEntry{{UserID: "u1"}},
	})

	assert.Equal(t, 0, f.TeamOnlineCount())
	assert.Len(t, f.OnlineUsers(), 1)
}

func TestDispatchRoutesEventsToTheStore(t *testing.T) {
	f := testFacade(&fakeDialer{})
	defer f.Close()

	f.dispatch(mustEnvelope(t, models.EventStandup, nil, models.StandupUpdate{
		ID:        "s1",
		UserEmail: "alice@example.com",
		Today:     "reviewing PRs",
		Timestamp: time.Now(),
	}))
	f.dispatch(mustEnvelope(t, models.EventNotification, nil, models.ToastNotification{
		ID:    "n1",
		Type:  models.ToastWarning,
		Title: "Blocker Detected",
	}))
	f.dispatch(mustEnvelope(t, models.EventConnection, nil, models.ConnectionPayload{
		Status: "connected",
		UserID: "u1",
	}))

	assert.Len(t, f.StandupUpdates(), 1)
	assert.Len(t, f.Notifications(), 1)
	assert.Equal(t, "u1", f.UserID())
}

func TestDispatchDropsMalformedAndUnknownPayloads(t *testing.T) {
	f := testFacade(&fakeDialer{})
	defer f.Close()

	f.dispatch(models.Envelope{
		Type:    models.EventPresence,
		Payload: json.RawMessage(`{"users": 42}`),
	})
	f.dispatch(models.Envelope{
		Type:    models.EventActivity,
		Payload: json.RawMessage(`"not an object"`),
	})
	f.dispatch(models.Envelope{Type: "sprint_planning_started"})

	assert.Empty(t, f.OnlineUsers())
	assert.Empty(t, f.RecentActivity())
}

func TestDismissNotificationPassesThrough(t *testing.T) {
	f := testFacade(&fakeDialer{})
	defer f.Close()

	f.dispatch(mustEnvelope(t, models.EventNotification, nil, models.ToastNotification{
		ID:    "n1",
		Type:  models.ToastInfo,
		Title: "hello",
	}))
	require.Len(t, f.Notifications(), 1)

	f.DismissNotification("n1")
	assert.Empty(t, f.Notifications())

	f.DismissNotification("n1")
	assert.Empty(t, f.Notifications())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		ActivityLogMax:  10,
		StandupLogMax:   20,
		ToastTTL:        3 * time.Second,
		ReconnectMinGap: 500 * time.Millisecond,
		ReconnectMaxGap: 10 * time.Second,
	}

	opts := OptionsFromConfig(cfg, "ws://localhost:8080/ws", "token")

	assert.Equal(t, "ws://localhost:8080/ws", opts.URL)
	assert.Equal(t, 500*time.Millisecond, opts.Client.InitialBackoff)
	assert.Equal(t, 10*time.Second, opts.Client.MaxBackoff)
	assert.True(t, opts.Client.Jitter)
	assert.Equal(t, 10, opts.Store.MaxActivity)
	assert.Equal(t, 20, opts.Store.MaxStandups)
	assert.Equal(t, 3*time.Second, opts.Store.DefaultToastTTL)
}

func TestStatusReflectsSocketAndListeners(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	f := testFacade(dialer)
	defer f.Close()

	status := f.Status()
	assert.False(t, status.HasSocket)
	assert.Equal(t, 0, status.ActiveListeners)

	unsub := f.OnActivity(func([]models.ActivityEvent) {})
	defer unsub()

	f.Connect(context.Background())
	waitConnected(t, f)

	status = f.Status()
	assert.True(t, status.HasSocket)
	assert.Equal(t, 1, status.ActiveListeners)
}
