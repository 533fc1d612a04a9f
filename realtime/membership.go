package realtime

import (
	"sort"
	"sync"

	"standhub/models"
	"standhub/utils"
)

// commandSender is the slice of Client that membership needs.
type commandSender interface {
	Send(env models.Envelope) error
	State() ConnectionState
}

// Membership tracks which rooms the client believes it has joined. The
// server forgets membership on every disconnect, so the full set is
// re-asserted as join commands on each CONNECTED transition.
type Membership struct {
	sender commandSender
	logger *utils.Logger

	mu    sync.Mutex
	rooms map[models.RoomKey]struct{}
}

func NewMembership(sender commandSender, logger *utils.Logger) *Membership {
	if logger == nil {
		logger = utils.NewLogger("development")
	}
	return &Membership{
		sender: sender,
		logger: logger,
		rooms:  make(map[models.RoomKey]struct{}),
	}
}

// Join adds the room to the membership set. The join command is sent
// immediately when connected, otherwise deferred until the next CONNECTED
// transition.
func (m *Membership) Join(key models.RoomKey) {
	m.mu.Lock()
	m.rooms[key] = struct{}{}
	m.mu.Unlock()

	if m.sender.State() == StateConnected {
		m.sendCommand(models.CommandJoin, key)
	} else {
		m.logger.Debug("Join deferred until connected", "company_id", key.CompanyID, "team_id", key.TeamID)
	}
}

// Leave removes the room from the membership set and sends a leave command
// when connected. When not connected the room is simply not re-asserted on
// the next connect.
func (m *Membership) Leave(key models.RoomKey) {
	m.mu.Lock()
	delete(m.rooms, key)
	m.mu.Unlock()

	if m.sender.State() == StateConnected {
		m.sendCommand(models.CommandLeave, key)
	}
}

// Reassert re-sends a join command for every room in the membership set.
// Joins are idempotent server-side, so duplicates across reconnects are
// harmless and not deduplicated here.
func (m *Membership) Reassert() {
	for _, key := range m.Rooms() {
		m.sendCommand(models.CommandJoin, key)
	}
}

// Rooms returns a stable-ordered snapshot of the membership set.
func (m *Membership) Rooms() []models.RoomKey {
	m.mu.Lock()
	keys := make([]models.RoomKey, 0, len(m.rooms))
	for key := range m.rooms {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CompanyID != keys[j].CompanyID {
			return keys[i].CompanyID < keys[j].CompanyID
		}
		return keys[i].TeamID < keys[j].TeamID
	})
	return keys
}

func (m *Membership) sendCommand(command string, key models.RoomKey) {
	scope := key
	if err := m.sender.Send(models.Envelope{Type: command, Scope: &scope}); err != nil {
		m.logger.Warn("Failed to send room command", "command", command, "team_id", key.TeamID, "error", err)
	}
}
