package builtintools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/tools-provider/internal/telemetry"
	"goa.design/tools-provider/internal/userctx"
)

// MemoryStore implements the Memory category of §4.11: key/value state
// scoped to user_id with an optional TTL in days, backed primarily by a
// shared Redis cache with a per-user file fallback when Redis is
// unavailable — the same two-tier shape as internal/tokencache.
type MemoryStore struct {
	root   string
	redis  *redis.Client
	logger telemetry.Logger
}

// NewMemoryStore constructs a MemoryStore. redisClient may be nil, in
// which case every operation uses the file fallback.
func NewMemoryStore(root string, redisClient *redis.Client, logger telemetry.Logger) *MemoryStore {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &MemoryStore{root: root, redis: redisClient, logger: logger}
}

func memoryRedisKey(userID, key string) string { return "builtin:memory:" + userID + ":" + key }

// Get retrieves args["key"] for the caller's user id.
func (m *MemoryStore) Get(ctx context.Context, args map[string]any, user userctx.Context) (Result, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return Result{Success: false, Error: "key is required"}, nil
	}

	if m.redis != nil {
		val, err := m.redis.Get(ctx, memoryRedisKey(user.UserID, key)).Result()
		if err == nil {
			return Result{Success: true, Output: val}, nil
		}
		if err != redis.Nil {
			m.logger.Warn(ctx, "memory store redis get failed, falling back to file", "error", err.Error())
		}
	}

	val, ok, err := m.getFile(user.UserID, key)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Success: false, Error: "key not found: " + key}, nil
	}
	return Result{Success: true, Output: val}, nil
}

// Set stores args["key"]/args["value"] with an optional args["ttl_days"].
func (m *MemoryStore) Set(ctx context.Context, args map[string]any, user userctx.Context) (Result, error) {
	key, _ := args["key"].(string)
	value, _ := args["value"].(string)
	if key == "" {
		return Result{Success: false, Error: "key is required"}, nil
	}
	var ttl time.Duration
	if days, ok := args["ttl_days"].(float64); ok && days > 0 {
		ttl = time.Duration(days*24) * time.Hour
	}

	if m.redis != nil {
		if err := m.redis.Set(ctx, memoryRedisKey(user.UserID, key), value, ttl).Err(); err != nil {
			m.logger.Warn(ctx, "memory store redis set failed, falling back to file", "error", err.Error())
		} else {
			return Result{Success: true}, nil
		}
	}

	if err := m.setFile(user.UserID, key, value, ttl); err != nil {
		return Result{}, err
	}
	return Result{Success: true}, nil
}

type fileEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (m *MemoryStore) entryPath(userID, key string) (string, error) {
	dir, err := userWorkspaceDir(m.root, userID)
	if err != nil {
		return "", err
	}
	return safeJoin(dir, fmt.Sprintf("memory_%s.json", safeSegment(key)))
}

func (m *MemoryStore) getFile(userID, key string) (string, bool, error) {
	path, err := m.entryPath(userID, key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var e fileEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", false, err
	}
	if !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt) {
		_ = os.Remove(path)
		return "", false, nil
	}
	return e.Value, true, nil
}

func (m *MemoryStore) setFile(userID, key, value string, ttl time.Duration) error {
	path, err := m.entryPath(userID, key)
	if err != nil {
		return err
	}
	e := fileEntry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
