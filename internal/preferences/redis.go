package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"codetapasya-backend/internal/domain"
)

const (
	redisKeyPrefix    = "prefs:"
	defaultRedisTTL   = 30 * 24 * time.Hour
	maxUpdateAttempts = 5
)

// RedisStore keeps preferences as JSON values. Updates use WATCH/MULTI so a
// concurrent writer for the same subject forces a re-read.
type RedisStore struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *goredis.Client) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("preferences: redis client must not be nil")
	}
	return &RedisStore{rdb: rdb, ttl: defaultRedisTTL}, nil
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("preferences: missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("preferences: redis ping: %w", err)
	}
	return rdb, nil
}

func redisKey(subjectID string) string { return redisKeyPrefix + subjectID }

func (s *RedisStore) Update(ctx context.Context, subjectID string, fn func(*domain.Preferences)) (domain.Preferences, error) {
	key := redisKey(subjectID)
	var result domain.Preferences

	txf := func(tx *goredis.Tx) error {
		prefs, err := readPreferences(ctx, tx, key, subjectID)
		if err != nil {
			return err
		}
		fn(&prefs)
		raw, err := json.Marshal(prefs)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		if err == nil {
			result = prefs
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return domain.Preferences{}, fmt.Errorf("preferences: redis update %s: %w", key, err)
	}
	return domain.Preferences{}, fmt.Errorf("preferences: redis update %s: too many concurrent writers", key)
}

func (s *RedisStore) Get(ctx context.Context, subjectID string) (domain.Preferences, error) {
	prefs, err := readPreferences(ctx, s.rdb, redisKey(subjectID), subjectID)
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("preferences: redis get: %w", err)
	}
	return prefs, nil
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func readPreferences(ctx context.Context, c getter, key, subjectID string) (domain.Preferences, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.NewPreferences(subjectID), nil
	}
	if err != nil {
		return domain.Preferences{}, err
	}
	var prefs domain.Preferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return domain.Preferences{}, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	if prefs.SubjectID == "" {
		prefs.SubjectID = subjectID
	}
	return prefs, nil
}
