package realtime

import (
	"sort"
	"sync"
	"time"

	"standhub/models"
	"standhub/utils"
)

// StoreConfig bounds the in-memory logs.
type StoreConfig struct {
	// MaxActivity caps the activity log; oldest entries are evicted first.
	MaxActivity int
	// MaxStandups caps the standup log.
	MaxStandups int
	// DefaultToastTTL is the expiry applied to toasts that carry none.
	DefaultToastTTL time.Duration
}

// DefaultStoreConfig returns the log bounds used by the dashboard.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxActivity:     50,
		MaxStandups:     50,
		DefaultToastTTL: 5 * time.Second,
	}
}

// Unsubscribe removes a previously registered log subscription.
type Unsubscribe func()

// Store owns all mutable real-time state: the online-user set, the activity
// and standup logs and the toast queue. All merges are idempotent under
// at-least-once delivery. No other component mutates these collections.
type Store struct {
	config StoreConfig
	logger *utils.Logger

	// now is the clock used for the "today" read boundary; injectable in tests.
	now func() time.Time

	mu          sync.Mutex
	online      map[string]models.PresenceEntry
	activity    []models.ActivityEvent // most recent first
	activityIDs map[string]struct{}
	standups    []models.StandupUpdate // most recent first
	standupIDs  map[string]struct{}
	toasts      []models.ToastNotification
	toastTimers map[string]*time.Timer
	closed      bool

	nextSubID     int
	presenceSubs  map[int]func([]models.PresenceEntry)
	activitySubs  map[int]func([]models.ActivityEvent)
	standupSubs   map[int]func([]models.StandupUpdate)
	toastSubs     map[int]func([]models.ToastNotification)
}

func NewStore(config StoreConfig, logger *utils.Logger) *Store {
	if config.MaxActivity <= 0 {
		config.MaxActivity = 50
	}
	if config.MaxStandups <= 0 {
		config.MaxStandups = 50
	}
	if config.DefaultToastTTL <= 0 {
		config.DefaultToastTTL = 5 * time.Second
	}
	if logger == nil {
		logger = utils.NewLogger("development")
	}
	return &Store{
		config:       config,
		logger:       logger,
		now:          time.Now,
		online:       make(map[string]models.PresenceEntry),
		activityIDs:  make(map[string]struct{}),
		standupIDs:   make(map[string]struct{}),
		toastTimers:  make(map[string]*time.Timer),
		presenceSubs: make(map[int]func([]models.PresenceEntry)),
		activitySubs: make(map[int]func([]models.ActivityEvent)),
		standupSubs:  make(map[int]func([]models.StandupUpdate)),
		toastSubs:    make(map[int]func([]models.ToastNotification)),
	}
}

// ApplyPresence merges a presence message. A full sync replaces the entire
// online set; a delta upserts a single entry keyed by user id.
func (s *Store) ApplyPresence(payload models.PresencePayload) {
	s.mu.Lock()
	if payload.FullSync() {
		s.online = make(map[string]models.PresenceEntry, len(payload.Users))
		for _, entry := range payload.Users {
			s.online[entry.UserID] = entry
		}
	} else if payload.User != nil {
		s.online[payload.User.UserID] = *payload.User
	} else {
		s.mu.Unlock()
		return
	}
	snapshot := s.onlineSnapshotLocked()
	subs := s.presenceSubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// ApplyActivity appends an activity event unless its id is already present.
// The log is truncated to MaxActivity, oldest first.
func (s *Store) ApplyActivity(event models.ActivityEvent) {
	s.mu.Lock()
	if _, seen := s.activityIDs[event.ID]; seen {
		s.mu.Unlock()
		return
	}
	s.activityIDs[event.ID] = struct{}{}
	s.activity = append([]models.ActivityEvent{event}, s.activity...)
	if len(s.activity) > s.config.MaxActivity {
		for _, evicted := range s.activity[s.config.MaxActivity:] {
			delete(s.activityIDs, evicted.ID)
		}
		s.activity = s.activity[:s.config.MaxActivity]
	}
	snapshot := append([]models.ActivityEvent(nil), s.activity...)
	subs := s.activitySubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// ApplyStandup appends a standup update unless its id is already present.
// The "today" filter is applied on read, not here; truncation is the only
// deletion path for the underlying log.
func (s *Store) ApplyStandup(update models.StandupUpdate) {
	s.mu.Lock()
	if _, seen := s.standupIDs[update.ID]; seen {
		s.mu.Unlock()
		return
	}
	s.standupIDs[update.ID] = struct{}{}
	s.standups = append([]models.StandupUpdate{update}, s.standups...)
	if len(s.standups) > s.config.MaxStandups {
		for _, evicted := range s.standups[s.config.MaxStandups:] {
			delete(s.standupIDs, evicted.ID)
		}
		s.standups = s.standups[:s.config.MaxStandups]
	}
	snapshot := s.todayStandupsLocked()
	subs := s.standupSubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// ApplyNotification appends a toast and schedules its independent expiry.
func (s *Store) ApplyNotification(toast models.ToastNotification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, pending := s.toastTimers[toast.ID]; pending {
		// Duplicate delivery of a toast already queued
		s.mu.Unlock()
		return
	}
	if toast.ExpiresAt.IsZero() {
		toast.ExpiresAt = s.now().Add(s.config.DefaultToastTTL)
	}
	s.toasts = append(s.toasts, toast)

	ttl := time.Until(toast.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}
	id := toast.ID
	s.toastTimers[id] = time.AfterFunc(ttl, func() {
		s.Dismiss(id)
	})
	snapshot := append([]models.ToastNotification(nil), s.toasts...)
	subs := s.toastSubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Dismiss removes a toast by id. Calling it for an already expired or
// removed toast is a no-op.
func (s *Store) Dismiss(id string) {
	s.mu.Lock()
	if timer, ok := s.toastTimers[id]; ok {
		timer.Stop()
		delete(s.toastTimers, id)
	}
	removed := false
	for i, toast := range s.toasts {
		if toast.ID == id {
			s.toasts = append(s.toasts[:i], s.toasts[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		s.mu.Unlock()
		return
	}
	snapshot := append([]models.ToastNotification(nil), s.toasts...)
	subs := s.toastSubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// ClearRoomState drops presence and activity accumulated for the room the
// client just left, so a room switch never shows stale state.
func (s *Store) ClearRoomState() {
	s.mu.Lock()
	s.online = make(map[string]models.PresenceEntry)
	s.activity = nil
	s.activityIDs = make(map[string]struct{})
	presenceSnapshot := []models.PresenceEntry{}
	activitySnapshot := []models.ActivityEvent{}
	presenceSubs := s.presenceSubsLocked()
	activitySubs := s.activitySubsLocked()
	s.mu.Unlock()

	for _, fn := range presenceSubs {
		fn(presenceSnapshot)
	}
	for _, fn := range activitySubs {
		fn(activitySnapshot)
	}
}

// Close stops all pending toast expiry timers.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	for id, timer := range s.toastTimers {
		timer.Stop()
		delete(s.toastTimers, id)
	}
	s.mu.Unlock()
}

// OnlineUsers returns the online set ordered by join time.
func (s *Store) OnlineUsers() []models.PresenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlineSnapshotLocked()
}

// RecentActivity returns the activity log, most recent first.
func (s *Store) RecentActivity() []models.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ActivityEvent(nil), s.activity...)
}

// TodayStandups returns standup updates from the current local day, judged
// by the reader's clock. Older entries stay in the underlying log until
// truncation evicts them.
func (s *Store) TodayStandups() []models.StandupUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.todayStandupsLocked()
}

// Notifications returns the live toast queue.
func (s *Store) Notifications() []models.ToastNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ToastNotification(nil), s.toasts...)
}

// SubscriberCount reports the number of active log subscriptions.
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.presenceSubs) + len(s.activitySubs) + len(s.standupSubs) + len(s.toastSubs)
}

// OnPresence subscribes to online-set changes.
func (s *Store) OnPresence(fn func([]models.PresenceEntry)) Unsubscribe {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.presenceSubs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.presenceSubs, id)
		s.mu.Unlock()
	}
}

// OnActivity subscribes to activity log changes.
func (s *Store) OnActivity(fn func([]models.ActivityEvent)) Unsubscribe {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.activitySubs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.activitySubs, id)
		s.mu.Unlock()
	}
}

// OnStandups subscribes to changes of the today view of the standup log.
func (s *Store) OnStandups(fn func([]models.StandupUpdate)) Unsubscribe {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.standupSubs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.standupSubs, id)
		s.mu.Unlock()
	}
}

// OnNotifications subscribes to toast queue changes.
func (s *Store) OnNotifications(fn func([]models.ToastNotification)) Unsubscribe {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.toastSubs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.toastSubs, id)
		s.mu.Unlock()
	}
}

func (s *Store) onlineSnapshotLocked() []models.PresenceEntry {
	entries := make([]models.PresenceEntry, 0, len(s.online))
	for _, entry := range s.online {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

func (s *Store) todayStandupsLocked() []models.StandupUpdate {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var today []models.StandupUpdate
	for _, update := range s.standups {
		if !update.Timestamp.Before(dayStart) {
			today = append(today, update)
		}
	}
	return today
}

func (s *Store) presenceSubsLocked() []func([]models.PresenceEntry) {
	subs := make([]func([]models.PresenceEntry), 0, len(s.presenceSubs))
	for _, fn := range s.presenceSubs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Store) activitySubsLocked() []func([]models.ActivityEvent) {
	subs := make([]func([]models.ActivityEvent), 0, len(s.activitySubs))
	for _, fn := range s.activitySubs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Store) standupSubsLocked() []func([]models.StandupUpdate) {
	subs := make([]func([]models.StandupUpdate), 0, len(s.standupSubs))
	for _, fn := range s.standupSubs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Store) toastSubsLocked() []func([]models.ToastNotification) {
	subs := make([]func([]models.ToastNotification), 0, len(s.toastSubs))
	for _, fn := range s.toastSubs {
		subs = append(subs, fn)
	}
	return subs
}
