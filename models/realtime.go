package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried in the websocket envelope.
const (
	EventPresence     = "presence"
	EventActivity     = "activity"
	EventStandup      = "standup"
	EventNotification = "notification"
	EventConnection   = "connection"
)

// Commands sent from client to server.
const (
	CommandJoin   = "join"
	CommandLeave  = "leave"
	CommandNotify = "notify"
)

// RoomKey identifies a (company, team) subscription scope.
type RoomKey struct {
	CompanyID string `json:"company_id"`
	TeamID    string `json:"team_id"`
}

// TeamRoom returns the server-side room name for this scope.
func (k RoomKey) TeamRoom() string {
	return fmt.Sprintf("team_%s_%s", k.CompanyID, k.TeamID)
}

// CompanyRoom returns the room every connection of a company joins.
func CompanyRoom(companyID string) string {
	return fmt.Sprintf("company_%s", companyID)
}

// Envelope is the single wire format for inbound events and outbound commands.
type Envelope struct {
	Type    string          `json:"type"`
	Scope   *RoomKey        `json:"scope,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(eventType string, scope *RoomKey, payload interface{}) (Envelope, error) {
	env := Envelope{Type: eventType, Scope: scope}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return env, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		env.Payload = data
	}
	return env, nil
}

// PresenceEntry describes one user active in a room.
type PresenceEntry struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	JoinedAt time.Time `json:"joined_at"`
}

// PresencePayload is either a full sync (Users set) or a delta (User set).
// A full sync replaces the whole online set; a delta upserts a single entry.
type PresencePayload struct {
	Users []PresenceEntry `json:"users,omitempty"`
	User  *PresenceEntry  `json:"user,omitempty"`
}

// FullSync reports whether the payload replaces the entire online set.
func (p PresencePayload) FullSync() bool {
	return p.Users != nil
}

// Activity types recognized in the feed.
const (
	ActivityStandup       = "standup"
	ActivitySprint        = "sprint"
	ActivityRetrospective = "retrospective"
	ActivityOther         = "other"
)

// ActivityEvent is one entry in the team activity feed.
type ActivityEvent struct {
	ID           string    `json:"id"`
	ActivityType string    `json:"activity_type"`
	UserName     string    `json:"user_name"`
	Details      JSONB     `json:"details,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// StandupUpdate is a broadcast standup submission. BlockerAnalysis and
// Sentiment are opaque payloads produced upstream and passed through.
type StandupUpdate struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	UserEmail       string    `json:"user_email"`
	Yesterday       string    `json:"yesterday"`
	Today           string    `json:"today"`
	Blockers        string    `json:"blockers"`
	BlockerAnalysis JSONB     `json:"blocker_analysis,omitempty"`
	Sentiment       JSONB     `json:"sentiment,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Toast severity levels.
const (
	ToastSuccess = "success"
	ToastWarning = "warning"
	ToastError   = "error"
	ToastInfo    = "info"
)

// ToastNotification is a transient, dismissible notification.
type ToastNotification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Sender    string    `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ConnectionPayload acknowledges a successful connection.
type ConnectionPayload struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
}
