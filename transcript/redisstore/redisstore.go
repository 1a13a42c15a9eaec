// Package redisstore is a transcript.Store backed by Redis. Records are kept
// as JSON strings; per-conversation and per-session sorted sets index them by
// creation time.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/logging"
	"github.com/maxwelljoslyn/gm-trainer/transcript"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "gm-trainer:"

// Options configures New.
type Options struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
	// TTL expires records and indexes; zero keeps them forever.
	TTL    time.Duration
	Logger logging.Logger
}

// Store implements transcript.Store.
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    logging.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Addr:      "localhost:6379",
		KeyPrefix: DefaultKeyPrefix,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:    client,
		keyPrefix: opts.KeyPrefix,
		ttl:       opts.TTL,
		logger:    opts.Logger,
	}, nil
}

func (s *Store) recordKey(id string) string       { return s.keyPrefix + "rec:" + id }
func (s *Store) conversationKey(id string) string { return s.keyPrefix + "conv:" + id }
func (s *Store) sessionKey(id string) string      { return s.keyPrefix + "session:" + id }

// Append implements transcript.Sink. Record ids must be unique.
func (s *Store) Append(ctx context.Context, rec core.Record) error {
	if err := transcript.Validate(rec); err != nil {
		return err
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.recordKey(rec.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store record %s: %w", rec.ID, err)
	}

	if !ok {
		return fmt.Errorf("record %s already exists", rec.ID)
	}

	score := float64(rec.CreatedAt.UnixNano())

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.conversationKey(rec.ConversationID), redis.Z{Score: score, Member: rec.ID})
	if rec.SessionID != "" {
		pipe.ZAdd(ctx, s.sessionKey(rec.SessionID), redis.Z{Score: score, Member: rec.ID})
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, s.conversationKey(rec.ConversationID), s.ttl)
		if rec.SessionID != "" {
			pipe.Expire(ctx, s.sessionKey(rec.SessionID), s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("transcript.redis.append.error", "record_id", rec.ID, "error", err)
		return fmt.Errorf("index record %s: %w", rec.ID, err)
	}

	return nil
}

// LoadConversation implements transcript.Loader.
func (s *Store) LoadConversation(ctx context.Context, conversationID string) ([]core.Record, error) {
	records, err := s.load(ctx, s.conversationKey(conversationID))
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", transcript.ErrConversationNotFound, conversationID)
	}

	return records, nil
}

// SessionRecords implements transcript.Store.
func (s *Store) SessionRecords(ctx context.Context, sessionID string) ([]core.Record, error) {
	return s.load(ctx, s.sessionKey(sessionID))
}

func (s *Store) load(ctx context.Context, indexKey string) ([]core.Record, error) {
	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", indexKey, err)
	}

	if len(ids) == 0 {
		return []core.Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	records := make([]core.Record, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Expired or deleted behind the index.
			s.logger.Debug("transcript.redis.load.missing", "record_id", ids[i])
			continue
		}

		var rec core.Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s: %w", ids[i], err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// Ping checks if the store is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
