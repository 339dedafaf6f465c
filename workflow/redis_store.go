package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "reasona:workflow:"

// RedisStore implements Store in Redis. Each record is a JSON string; a
// sorted set per workflow orders run IDs by start time.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store from an existing client. A zero ttl keeps
// records forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Key helpers
func (s *RedisStore) runKey(runID string) string     { return s.prefix + "run:" + runID }
func (s *RedisStore) indexKey(workflow string) string { return s.prefix + "runs:" + workflow }
func (s *RedisStore) workflowsKey() string            { return s.prefix + "workflows" }

// Save implements Store
func (s *RedisStore) Save(ctx context.Context, rec *RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(rec.RunID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(rec.Workflow), redis.Z{
		Score:  float64(rec.Timestamp.UnixNano()),
		Member: rec.RunID,
	})
	pipe.SAdd(ctx, s.workflowsKey(), rec.Workflow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}
	return nil
}

// Load implements Store
func (s *RedisStore) Load(ctx context.Context, runID string) (*RunRecord, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &rec, nil
}

// List implements Store. Index entries whose record expired are pruned.
func (s *RedisStore) List(ctx context.Context, workflow string) ([]*RunRecord, error) {
	workflows := []string{workflow}
	if workflow == "" {
		names, err := s.client.SMembers(ctx, s.workflowsKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		workflows = names
	}

	var recs []*RunRecord
	for _, wf := range workflows {
		ids, err := s.client.ZRange(ctx, s.indexKey(wf), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list runs of %s: %w", wf, err)
		}
		for _, id := range ids {
			rec, err := s.Load(ctx, id)
			if errors.Is(err, ErrRunNotFound) {
				s.client.ZRem(ctx, s.indexKey(wf), id)
				continue
			}
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
	}
	sortRecords(recs)
	return recs, nil
}

// Delete implements Store
func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	rec, err := s.Load(ctx, runID)
	if errors.Is(err, ErrRunNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.runKey(runID))
	pipe.ZRem(ctx, s.indexKey(rec.Workflow), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}

// Clear implements Store
func (s *RedisStore) Clear(ctx context.Context, workflow string) error {
	ids, err := s.client.ZRange(ctx, s.indexKey(workflow), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list runs of %s: %w", workflow, err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.runKey(id))
	}
	keys = append(keys, s.indexKey(workflow))

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, s.workflowsKey(), workflow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear runs of %s: %w", workflow, err)
	}
	return nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
