package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"standhub/models"
	"standhub/utils"
)

const presenceKeyPrefix = "presence:"

// PresenceStore keeps the per-room online sets in Redis so every gateway
// instance sees the same presence. Entries expire on TTL when a client
// vanishes without a clean leave.
type PresenceStore struct {
	redis  *redis.Client
	logger *utils.Logger
	ttl    time.Duration
}

func NewPresenceStore(redisClient *redis.Client, ttl time.Duration, logger *utils.Logger) *PresenceStore {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &PresenceStore{
		redis:  redisClient,
		logger: logger,
		ttl:    ttl,
	}
}

func entryKey(room, userID string) string {
	return presenceKeyPrefix + room + ":" + userID
}

func onlineSetKey(room string) string {
	return presenceKeyPrefix + room + ":online"
}

// Join records a user as present in a room.
func (ps *PresenceStore) Join(ctx context.Context, room string, entry models.PresenceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal presence entry: %w", err)
	}

	// Use pipeline for atomic operations
	pipe := ps.redis.Pipeline()
	pipe.Set(ctx, entryKey(room, entry.UserID), data, ps.ttl)
	pipe.SAdd(ctx, onlineSetKey(room), entry.UserID)
	pipe.Expire(ctx, onlineSetKey(room), ps.ttl*2) // Keep online set alive longer

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}

	ps.logger.Debug("Presence joined", "room", room, "user_id", entry.UserID)
	return nil
}

// Heartbeat refreshes a user's presence TTL.
func (ps *PresenceStore) Heartbeat(ctx context.Context, room string, entry models.PresenceEntry) error {
	return ps.Join(ctx, room, entry)
}

// Leave removes a user from a room's online set.
func (ps *PresenceStore) Leave(ctx context.Context, room, userID string) error {
	pipe := ps.redis.Pipeline()
	pipe.Del(ctx, entryKey(room, userID))
	pipe.SRem(ctx, onlineSetKey(room), userID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}

	ps.logger.Debug("Presence left", "room", room, "user_id", userID)
	return nil
}

// List returns the users currently present in a room, pruning entries whose
// TTL has lapsed.
func (ps *PresenceStore) List(ctx context.Context, room string) ([]models.PresenceEntry, error) {
	userIDs, err := ps.redis.SMembers(ctx, onlineSetKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	if len(userIDs) == 0 {
		return []models.PresenceEntry{}, nil
	}

	// Get all presence entries in one pipeline
	pipe := ps.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(userIDs))
	for i, userID := range userIDs {
		cmds[i] = pipe.Get(ctx, entryKey(room, userID))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get presence entries: %w", err)
	}

	entries := make([]models.PresenceEntry, 0, len(userIDs))
	var expired []interface{}

	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			if err == redis.Nil {
				// Entry TTL lapsed, drop from the online set
				expired = append(expired, userIDs[i])
				continue
			}
			ps.logger.Warn("Error getting presence entry", "user_id", userIDs[i], "error", err)
			continue
		}

		var entry models.PresenceEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			ps.logger.Warn("Error unmarshaling presence entry", "user_id", userIDs[i], "error", err)
			continue
		}
		entries = append(entries, entry)
	}

	if len(expired) > 0 {
		ps.redis.SRem(ctx, onlineSetKey(room), expired...)
	}

	return entries, nil
}
