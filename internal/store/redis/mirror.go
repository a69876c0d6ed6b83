package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/core"
)

const defaultTTL = 2 * time.Minute

// PresenceMirror publishes the hub's presence snapshots to Redis so other services
// can read who is online. It only writes; the hub stays the source of truth.
//
// keys:
//
//	huddle:presence:{instance}:online = set of user ids (EX ttl)
//	huddle:presence:{instance}:away   = set of user ids (EX ttl)
//	huddle:lastseen:{userId}          = RFC3339 time the user was last seen online
type PresenceMirror struct {
	client   *goredis.Client
	instance string
	ttl      time.Duration
	latest   chan core.PresenceSnapshot
	log      *zerolog.Logger
}

// New connects to redisURL and returns a mirror for this instance.
func New(ctx context.Context, redisURL, instance string, logger *zerolog.Logger) (*PresenceMirror, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, instance, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, instance string, logger *zerolog.Logger) *PresenceMirror {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if instance == "" {
		instance = "default"
	}
	return &PresenceMirror{
		client:   client,
		instance: instance,
		ttl:      defaultTTL,
		latest:   make(chan core.PresenceSnapshot, 1),
		log:      logger,
	}
}

// PresenceChanged keeps only the newest pending snapshot. It never blocks the hub.
func (m *PresenceMirror) PresenceChanged(snap core.PresenceSnapshot) {
	for {
		select {
		case m.latest <- snap:
			return
		default:
		}
		select {
		case <-m.latest:
		default:
		}
	}
}

// Run writes snapshots until ctx is cancelled, then removes this instance's keys.
func (m *PresenceMirror) Run(ctx context.Context) error {
	refresh := time.NewTicker(m.ttl / 2)
	defer refresh.Stop()

	var last core.PresenceSnapshot
	for {
		select {
		case <-ctx.Done():
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := m.client.Del(cleanupCtx, m.onlineKey(), m.awayKey()).Err(); err != nil {
				m.log.Warn().Err(err).Msg("failed to clear presence mirror")
			}
			return nil
		case snap := <-m.latest:
			last = snap
			if err := m.Write(ctx, snap); err != nil {
				m.log.Warn().Err(err).Msg("failed to mirror presence")
			}
		case <-refresh.C:
			// keep the sets alive while nothing changes
			if err := m.Write(ctx, last); err != nil {
				m.log.Warn().Err(err).Msg("failed to refresh presence mirror")
			}
		}
	}
}

// Write replaces the mirrored sets with snap in one transaction.
func (m *PresenceMirror) Write(ctx context.Context, snap core.PresenceSnapshot) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := m.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, m.onlineKey(), m.awayKey())
		if len(snap.Online) > 0 {
			pipe.SAdd(ctx, m.onlineKey(), members(snap.Online)...)
			pipe.Expire(ctx, m.onlineKey(), m.ttl)
		}
		if len(snap.Away) > 0 {
			pipe.SAdd(ctx, m.awayKey(), members(snap.Away)...)
			pipe.Expire(ctx, m.awayKey(), m.ttl)
		}
		for _, id := range snap.Online {
			pipe.Set(ctx, lastSeenKey(id), now, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror presence: %w", err)
	}
	return nil
}

// Snapshot reads the mirrored sets back.
func (m *PresenceMirror) Snapshot(ctx context.Context) (core.PresenceSnapshot, error) {
	online, err := m.readSet(ctx, m.onlineKey())
	if err != nil {
		return core.PresenceSnapshot{}, err
	}
	away, err := m.readSet(ctx, m.awayKey())
	if err != nil {
		return core.PresenceSnapshot{}, err
	}
	return core.PresenceSnapshot{Online: online, Away: away}, nil
}

// LastSeen returns when the user was last mirrored as online.
func (m *PresenceMirror) LastSeen(ctx context.Context, userID int64) (time.Time, error) {
	raw, err := m.client.Get(ctx, lastSeenKey(userID)).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("get last seen: %w", err)
	}
	return time.Parse(time.RFC3339, raw)
}

// Close closes the Redis connection.
func (m *PresenceMirror) Close() error {
	return m.client.Close()
}

func (m *PresenceMirror) readSet(ctx context.Context, key string) ([]int64, error) {
	raw, err := m.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (m *PresenceMirror) onlineKey() string {
	return "huddle:presence:" + m.instance + ":online"
}

func (m *PresenceMirror) awayKey() string {
	return "huddle:presence:" + m.instance + ":away"
}

func lastSeenKey(userID int64) string {
	return "huddle:lastseen:" + strconv.FormatInt(userID, 10)
}

func members(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}
