package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paceline-ai/paceline/plan"
)

// patchAttempts bounds the optimistic-concurrency retry loop in
// PatchStepCompleted. Each retry re-reads the step, so the loop converges as
// soon as a concurrent writer lands.
const patchAttempts = 3

// RedisOptions configures the Redis connection for a RedisStore.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Namespace prefixes every key written by the store. Defaults to
	// "paceline".
	Namespace string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// RedisStore implements Store using go-redis/v9.
//
// Each plan is held as three keys scoped by the owner partition:
//
//   - <ns>:plan:<owner>:<id>:meta — hash of identity fields
//   - <ns>:plan:<owner>:<id>:steps — hash of position -> step JSON
//   - <ns>:plan:<owner>:<id>:history — list, appended with RPUSH
//
// Splitting the document this way keeps every mutation a single-field patch:
// completing a step rewrites one hash field, and appending history is a
// native list push.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore creates a plan store backed by Redis with the given options.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Namespace == "" {
		opts.Namespace = "paceline"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, namespace: opts.Namespace}, nil
}

// Create stores a new plan. The meta hash's "id" field doubles as the
// existence marker: HSETNX on it detects identifier collisions.
func (s *RedisStore) Create(ctx context.Context, p *plan.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}

	metaKey := s.metaKey(p.OwnerKey, p.ID)

	created, err := s.client.HSetNX(ctx, metaKey, "id", p.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to create plan %s: %w", p.ID, err)
	}
	if !created {
		return fmt.Errorf("plan %s: %w", p.ID, ErrConflict)
	}

	meta := map[string]string{
		"name":        p.Name,
		"owner_key":   p.OwnerKey,
		"subject_key": p.SubjectKey,
		"created_ms":  strconv.FormatInt(p.CreatedAt, 10),
		"step_count":  strconv.Itoa(len(p.Steps)),
	}
	args := make([]interface{}, 0, len(meta)*2)
	for k, v := range meta {
		args = append(args, k, v)
	}
	if err := s.client.HSet(ctx, metaKey, args...).Err(); err != nil {
		return fmt.Errorf("failed to set plan metadata: %w", err)
	}

	stepsKey := s.stepsKey(p.OwnerKey, p.ID)
	stepArgs := make([]interface{}, 0, len(p.Steps)*2)
	for i := range p.Steps {
		data, err := json.Marshal(&p.Steps[i])
		if err != nil {
			return fmt.Errorf("failed to marshal step %d: %w", p.Steps[i].Position, err)
		}
		stepArgs = append(stepArgs, strconv.Itoa(p.Steps[i].Position), data)
	}
	if err := s.client.HSet(ctx, stepsKey, stepArgs...).Err(); err != nil {
		return fmt.Errorf("failed to set plan steps: %w", err)
	}

	for _, entry := range p.History {
		if err := s.client.RPush(ctx, s.historyKey(p.OwnerKey, p.ID), entry).Err(); err != nil {
			return fmt.Errorf("failed to seed plan history: %w", err)
		}
	}

	return nil
}

// Get performs a point lookup of a plan by identifier and owner key.
func (s *RedisStore) Get(ctx context.Context, planID, ownerKey string) (*plan.Plan, error) {
	meta, err := s.client.HGetAll(ctx, s.metaKey(ownerKey, planID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", planID, err)
	}
	if len(meta) == 0 {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}

	createdMS, _ := strconv.ParseInt(meta["created_ms"], 10, 64)

	p := &plan.Plan{
		ID:         meta["id"],
		Name:       meta["name"],
		OwnerKey:   meta["owner_key"],
		SubjectKey: meta["subject_key"],
		CreatedAt:  createdMS,
		History:    []string{},
	}

	rawSteps, err := s.client.HGetAll(ctx, s.stepsKey(ownerKey, planID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read steps for plan %s: %w", planID, err)
	}

	steps := make([]plan.Step, 0, len(rawSteps))
	for _, raw := range rawSteps {
		var step plan.Step
		if err := json.Unmarshal([]byte(raw), &step); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step in plan %s: %w", planID, err)
		}
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })
	p.Steps = steps

	history, err := s.client.LRange(ctx, s.historyKey(ownerKey, planID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history for plan %s: %w", planID, err)
	}
	p.History = history

	return p, nil
}

// PatchStepCompleted marks one step completed under an optimistic WATCH on
// the steps key. A concurrent writer invalidates the transaction; the patch
// then re-reads the step, and if the concurrent writer already completed it
// the patch degrades to an idempotent no-op. At most one duplicate's write
// lands.
func (s *RedisStore) PatchStepCompleted(ctx context.Context, planID, ownerKey string, position int, completedAt time.Time) (bool, error) {
	if position < 1 {
		return false, fmt.Errorf("position must be >= 1, got %d", position)
	}

	stepsKey := s.stepsKey(ownerKey, planID)
	field := strconv.Itoa(position)

	var applied bool

	txn := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, stepsKey, field).Result()
		if err == redis.Nil {
			applied = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read step %d of plan %s: %w", position, planID, err)
		}

		var step plan.Step
		if err := json.Unmarshal([]byte(raw), &step); err != nil {
			return fmt.Errorf("failed to unmarshal step %d of plan %s: %w", position, planID, err)
		}

		if step.Completed {
			// Already done, nothing to write.
			applied = true
			return nil
		}

		step.Completed = true
		step.CompletedAt = completedAt.UnixMilli()

		data, err := json.Marshal(&step)
		if err != nil {
			return fmt.Errorf("failed to marshal step %d of plan %s: %w", position, planID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, stepsKey, field, data)
			return nil
		})
		if err != nil {
			return err
		}

		applied = true
		return nil
	}

	for attempt := 0; attempt < patchAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, stepsKey)
		if err == nil {
			return applied, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, err
	}

	return false, fmt.Errorf("failed to patch step %d of plan %s: too many concurrent writes", position, planID)
}

// AppendHistory appends one entry to the plan's history list.
func (s *RedisStore) AppendHistory(ctx context.Context, planID, ownerKey, entry string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.metaKey(ownerKey, planID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check plan %s: %w", planID, err)
	}
	if exists == 0 {
		return false, nil
	}

	if err := s.client.RPush(ctx, s.historyKey(ownerKey, planID), entry).Err(); err != nil {
		return false, fmt.Errorf("failed to append history for plan %s: %w", planID, err)
	}

	return true, nil
}

// GetHistory returns the history list without reading the rest of the plan.
func (s *RedisStore) GetHistory(ctx context.Context, planID, ownerKey string) ([]string, error) {
	exists, err := s.client.Exists(ctx, s.metaKey(ownerKey, planID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check plan %s: %w", planID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}

	history, err := s.client.LRange(ctx, s.historyKey(ownerKey, planID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history for plan %s: %w", planID, err)
	}

	return history, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) metaKey(ownerKey, planID string) string {
	return fmt.Sprintf("%s:plan:%s:%s:meta", s.namespace, ownerKey, planID)
}

func (s *RedisStore) stepsKey(ownerKey, planID string) string {
	return fmt.Sprintf("%s:plan:%s:%s:steps", s.namespace, ownerKey, planID)
}

func (s *RedisStore) historyKey(ownerKey, planID string) string {
	return fmt.Sprintf("%s:plan:%s:%s:history", s.namespace, ownerKey, planID)
}
