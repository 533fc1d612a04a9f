package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standhub/models"
)

// fakeSender records commands and exposes a settable connection state.
type fakeSender struct {
	mu    sync.Mutex
	state ConnectionState
	sent  []models.Envelope
}

func newFakeSender(state ConnectionState) *fakeSender {
	return &fakeSender{state: state}
}

func (f *fakeSender) Send(env models.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSender) State() ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSender) setState(state ConnectionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeSender) commands() []models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Envelope(nil), f.sent...)
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

func TestJoinSendsImmediatelyWhenConnected(t *testing.T) {
	sender := newFakeSender(StateConnected)
	membership := NewMembership(sender, nil)

	key := models.RoomKey{CompanyID: "3", TeamID: "7"}
	membership.Join(key)

	commands := sender.commands()
	require.Len(t, commands, 1)
	assert.Equal(t, models.CommandJoin, commands[0].Type)
	assert.Equal(t, key, *commands[0].Scope)
}

func TestJoinIsDeferredUntilConnected(t *testing.T) {
	sender := newFakeSender(StateDisconnected)
	membership := NewMembership(sender, nil)

	key := models.RoomKey{CompanyID: "3", TeamID: "7"}
	membership.Join(key)
	assert.Empty(t, sender.commands())

	// The CONNECTED transition asserts the deferred join
	sender.setState(StateConnected)
	membership.Reassert()

	commands := sender.commands()
	require.Len(t, commands, 1)
	assert.Equal(t, models.CommandJoin, commands[0].Type)
	assert.Equal(t, key, *commands[0].Scope)
}

func TestLeaveSendsWhenConnectedAndDropsFromSet(t *testing.T) {
	sender := newFakeSender(StateConnected)
	membership := NewMembership(sender, nil)

	key := models.RoomKey{CompanyID: "3", TeamID: "7"}
	membership.Join(key)
	membership.Leave(key)

	commands := sender.commands()
	require.Len(t, commands, 2)
	assert.Equal(t, models.CommandLeave, commands[1].Type)
	assert.Empty(t, membership.Rooms())

	// A left room is not re-asserted
	sender.reset()
	membership.Reassert()
	assert.Empty(t, sender.commands())
}

func TestLeaveWhileDisconnectedSendsNothing(t *testing.T) {
	sender := newFakeSender(StateDisconnected)
	membership := NewMembership(sender, nil)

	key := models.RoomKey{CompanyID: "3", TeamID: "7"}
	membership.Join(key)
	membership.Leave(key)

	assert.Empty(t, sender.commands())
	assert.Empty(t, membership.Rooms())
}

func TestReassertSendsExactlyTheMembershipSet(t *testing.T) {
	sender := newFakeSender(StateConnected)
	membership := NewMembership(sender, nil)

	a := models.RoomKey{CompanyID: "1", TeamID: "a"}
	b := models.RoomKey{CompanyID: "1", TeamID: "b"}
	membership.Join(a)
	membership.Join(b)
	sender.reset()

	membership.Reassert()

	commands := sender.commands()
	require.Len(t, commands, 2)
	scopes := map[models.RoomKey]bool{}
	for _, cmd := range commands {
		assert.Equal(t, models.CommandJoin, cmd.Type)
		scopes[*cmd.Scope] = true
	}
	assert.True(t, scopes[a])
	assert.True(t, scopes[b])
}

func TestDuplicateJoinIsNotDeduplicated(t *testing.T) {
	sender := newFakeSender(StateConnected)
	membership := NewMembership(sender, nil)

	key := models.RoomKey{CompanyID: "3", TeamID: "7"}
	membership.Join(key)
	membership.Join(key)

	// Joins are idempotent server-side; the set still holds one entry
	assert.Len(t, sender.commands(), 2)
	assert.Len(t, membership.Rooms(), 1)
}
