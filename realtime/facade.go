package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"standhub/config"
	"standhub/models"
	"standhub/utils"
)

// ConnectionStatus is the degraded-state view exposed to the UI.
type ConnectionStatus struct {
	HasSocket       bool `json:"has_socket"`
	ActiveListeners int  `json:"active_listeners"`
}

// Options configures a Facade.
type Options struct {
	// URL is the gateway websocket endpoint, e.g. "ws://localhost:8080/ws".
	URL string
	// Token is the bearer token presented on the handshake.
	Token string
	// Dialer overrides the websocket dialer; tests inject fakes here.
	Dialer Dialer
	// Client tunes reconnection; zero values use defaults.
	Client ClientConfig
	// Store bounds the in-memory logs; zero values use defaults.
	Store StoreConfig

	Logger *utils.Logger
}

// OptionsFromConfig maps the process configuration onto facade options.
func OptionsFromConfig(cfg *config.Config, url, token string) Options {
	return Options{
		URL:   url,
		Token: token,
		Client: ClientConfig{
			InitialBackoff: cfg.ReconnectMinGap,
			MaxBackoff:     cfg.ReconnectMaxGap,
			BackoffFactor:  2.0,
			Jitter:         true,
		},
		Store: StoreConfig{
			MaxActivity:     cfg.ActivityLogMax,
			MaxStandups:     cfg.StandupLogMax,
			DefaultToastTTL: cfg.ToastTTL,
		},
	}
}

// Facade is the process-wide access point for real-time state. It wires
// inbound channel events into store mutations and exposes read-only
// snapshots plus join/leave and dismissal intents. One instance per session;
// pass it to consumers explicitly.
type Facade struct {
	client     *Client
	membership *Membership
	store      *Store
	logger     *utils.Logger

	mu      sync.Mutex
	current *models.RoomKey
	userID  string
}

// New creates a facade. Call Connect to bring the channel up and Close to
// tear everything down.
func New(opts Options) *Facade {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewLogger("development")
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &WebsocketDialer{URL: opts.URL, Token: opts.Token}
	}

	f := &Facade{
		store:  NewStore(opts.Store, logger),
		logger: logger,
	}
	f.client = NewClient(dialer, opts.Client, logger)
	f.membership = NewMembership(f.client, logger)

	f.client.OnStateChange(f.handleStateChange)
	f.client.OnMessage(f.dispatch)
	return f
}

// Connect brings the channel up. Idempotent.
func (f *Facade) Connect(ctx context.Context) {
	f.client.Connect(ctx)
}

// Close tears down the channel and stops all toast expiry timers.
// Membership is retained so a later Connect replays the prior rooms.
func (f *Facade) Close() {
	f.client.Disconnect()
	f.store.Close()
}

// JoinTeam subscribes to a team room. Switching teams issues the leave for
// the previous room before the join for the new one.
func (f *Facade) JoinTeam(teamID, companyID string) {
	key := models.RoomKey{CompanyID: companyID, TeamID: teamID}

	f.mu.Lock()
	previous := f.current
	f.current = &key
	f.mu.Unlock()

	if previous != nil && *previous != key {
		f.membership.Leave(*previous)
		f.store.ClearRoomState()
	}
	f.membership.Join(key)
}

// LeaveTeam unsubscribes from a team room and clears the presence and
// activity accumulated for it.
func (f *Facade) LeaveTeam(teamID, companyID string) {
	key := models.RoomKey{CompanyID: companyID, TeamID: teamID}

	f.mu.Lock()
	if f.current != nil && *f.current == key {
		f.current = nil
	}
	f.mu.Unlock()

	f.membership.Leave(key)
	f.store.ClearRoomState()
}

// DismissNotification removes a toast by id. Idempotent.
func (f *Facade) DismissNotification(id string) {
	f.store.Dismiss(id)
}

// Connected reports whether the channel is currently up.
func (f *Facade) Connected() bool {
	return f.client.State() == StateConnected
}

// State returns the raw connection state.
func (f *Facade) State() ConnectionState {
	return f.client.State()
}

// Status returns the connection health snapshot.
func (f *Facade) Status() ConnectionStatus {
	return ConnectionStatus{
		HasSocket:       f.client.State() == StateConnected,
		ActiveListeners: f.store.SubscriberCount(),
	}
}

// OnlineUsers returns the online set of the joined room.
func (f *Facade) OnlineUsers() []models.PresenceEntry {
	return f.store.OnlineUsers()
}

// TeamOnlineCount counts online users scoped to the currently joined team
// room; zero when no team room is joined.
func (f *Facade) TeamOnlineCount() int {
	f.mu.Lock()
	joined := f.current != nil
	f.mu.Unlock()
	if !joined {
		return 0
	}
	return len(f.store.OnlineUsers())
}

// RecentActivity returns the activity feed, most recent first.
func (f *Facade) RecentActivity() []models.ActivityEvent {
	return f.store.RecentActivity()
}

// StandupUpdates returns today's standup updates.
func (f *Facade) StandupUpdates() []models.StandupUpdate {
	return f.store.TodayStandups()
}

// Notifications returns the live toast queue.
func (f *Facade) Notifications() []models.ToastNotification {
	return f.store.Notifications()
}

// UserID returns the id the server acknowledged on connect, if any.
func (f *Facade) UserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID
}

// Subscriptions pass through to the store so consumers are statically
// known rather than stringly-typed event names.

func (f *Facade) OnPresence(fn func([]models.PresenceEntry)) Unsubscribe {
	return f.store.OnPresence(fn)
}

func (f *Facade) OnActivity(fn func([]models.ActivityEvent)) Unsubscribe {
	return f.store.OnActivity(fn)
}

func (f *Facade) OnStandups(fn func([]models.StandupUpdate)) Unsubscribe {
	return f.store.OnStandups(fn)
}

func (f *Facade) OnNotifications(fn func([]models.ToastNotification)) Unsubscribe {
	return f.store.OnNotifications(fn)
}

// handleStateChange re-asserts room membership on every CONNECTED
// transition; the server forgets membership across reconnects.
func (f *Facade) handleStateChange(state ConnectionState) {
	if state == StateConnected {
		f.membership.Reassert()
	}
}

// dispatch demultiplexes one inbound message into the matching store merge.
// A single message produces at most one notification per affected log.
// Malformed payloads and unknown types are dropped, never surfaced.
func (f *Facade) dispatch(env models.Envelope) {
	switch env.Type {
	case models.EventPresence:
		var payload models.PresencePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			f.logger.Warn("Dropping malformed presence payload", "error", err)
			return
		}
		f.store.ApplyPresence(payload)

	case models.EventActivity:
		var event models.ActivityEvent
		if err := json.Unmarshal(env.Payload, &event); err != nil {
			f.logger.Warn("Dropping malformed activity payload", "error", err)
			return
		}
		f.store.ApplyActivity(event)

	case models.EventStandup:
		var update models.StandupUpdate
		if err := json.Unmarshal(env.Payload, &update); err != nil {
			f.logger.Warn("Dropping malformed standup payload", "error", err)
			return
		}
		f.store.ApplyStandup(update)

	case models.EventNotification:
		var toast models.ToastNotification
		if err := json.Unmarshal(env.Payload, &toast); err != nil {
			f.logger.Warn("Dropping malformed notification payload", "error", err)
			return
		}
		f.store.ApplyNotification(toast)

	case models.EventConnection:
		var payload models.ConnectionPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		f.mu.Lock()
		f.userID = payload.UserID
		f.mu.Unlock()
		f.logger.Debug("Connection acknowledged", "user_id", payload.UserID)

	default:
		// Unknown event types are ignored for forward compatibility
		f.logger.Debug("Ignoring unknown event type", "type", env.Type)
	}
}
