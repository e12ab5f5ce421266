package schedule

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/paceline-ai/paceline/plan"
)

// RedisOptions configures the Redis connection for a RedisScheduler.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Namespace prefixes every key written by the scheduler. Defaults to
	// "paceline".
	Namespace string

	// VisibilityTimeout is how long a claimed delivery stays invisible to
	// other consumers before it is considered abandoned and requeued.
	// Defaults to 5 minutes.
	VisibilityTimeout time.Duration

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// RedisScheduler implements Scheduler and Source using two Redis sorted sets:
//
//   - <ns>:triggers:scheduled — members are delivery JSON, scored by the
//     deliver-at time in Unix milliseconds
//   - <ns>:triggers:inflight — claimed deliveries, scored by the visibility
//     deadline
//
// Receive moves the earliest due member from scheduled to inflight under a
// WATCH transaction, so exactly one consumer wins each claim. Deliveries
// whose visibility deadline passes without an Ack are moved back with their
// attempt counter incremented, which is where the at-least-once semantics
// come from.
type RedisScheduler struct {
	client     *redis.Client
	namespace  string
	visibility time.Duration
}

// NewRedisScheduler creates a delay scheduler backed by Redis with the given
// options.
func NewRedisScheduler(opts RedisOptions) (*RedisScheduler, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Namespace == "" {
		opts.Namespace = "paceline"
	}
	if opts.VisibilityTimeout == 0 {
		opts.VisibilityTimeout = 5 * time.Minute
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

	return &RedisScheduler{
		client:     client,
		namespace:  opts.Namespace,
		visibility: opts.VisibilityTimeout,
	}, nil
}

// Schedule enqueues a trigger that becomes visible no earlier than notBefore
// from now.
func (s *RedisScheduler) Schedule(ctx context.Context, trigger plan.Trigger, notBefore time.Duration) (Receipt, error) {
	if err := trigger.IsValid(); err != nil {
		return Receipt{}, fmt.Errorf("invalid trigger: %w", err)
	}
	if notBefore < 0 {
		return Receipt{}, fmt.Errorf("notBefore must be non-negative, got %s", notBefore)
	}

	deliverAt := time.Now().Add(notBefore)

	d := Delivery{
		ID:              uuid.New().String(),
		Trigger:         trigger,
		DeliverAtMillis: deliverAt.UnixMilli(),
	}

	data, err := json.Marshal(&d)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to marshal delivery: %w", err)
	}

	err = s.client.ZAdd(ctx, s.scheduledKey(), redis.Z{
		Score:  float64(d.DeliverAtMillis),
		Member: string(data),
	}).Err()
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to schedule trigger for plan %s: %w", trigger.PlanID, err)
	}

	return Receipt{DeliveryID: d.ID, DeliveryTime: deliverAt}, nil
}

// Receive requeues expired in-flight deliveries, then claims at most one due
// trigger. Returns ErrNoDelivery when nothing is due or when another
// consumer wins the claim race.
func (s *RedisScheduler) Receive(ctx context.Context) (*Delivery, error) {
	if err := s.requeueExpired(ctx); err != nil {
		return nil, err
	}

	nowMS := time.Now().UnixMilli()

	var claimed *Delivery

	txn := func(tx *redis.Tx) error {
		members, err := tx.ZRangeByScore(ctx, s.scheduledKey(), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    strconv.FormatInt(nowMS, 10),
			Offset: 0,
			Count:  1,
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to read scheduled triggers: %w", err)
		}
		if len(members) == 0 {
			return nil
		}

		member := members[0]

		var d Delivery
		if err := json.Unmarshal([]byte(member), &d); err != nil {
			return fmt.Errorf("failed to unmarshal delivery: %w", err)
		}

		deadline := time.Now().Add(s.visibility).UnixMilli()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, s.scheduledKey(), member)
			pipe.ZAdd(ctx, s.inflightKey(), redis.Z{
				Score:  float64(deadline),
				Member: member,
			})
			return nil
		})
		if err != nil {
			return err
		}

		claimed = &d
		return nil
	}

	err := s.client.Watch(ctx, txn, s.scheduledKey())
	if errors.Is(err, redis.TxFailedErr) {
		// Another consumer claimed concurrently.
		return nil, ErrNoDelivery
	}
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, ErrNoDelivery
	}

	return claimed, nil
}

// Ack removes an in-flight delivery for good. Acking a delivery that has
// already been requeued (its visibility window expired) is a no-op; the
// requeued copy will be processed again, which is the at-least-once contract.
func (s *RedisScheduler) Ack(ctx context.Context, d *Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	if err := s.client.ZRem(ctx, s.inflightKey(), string(data)).Err(); err != nil {
		return fmt.Errorf("failed to ack delivery %s: %w", d.ID, err)
	}

	return nil
}

// requeueExpired moves in-flight deliveries whose visibility deadline has
// passed back to the scheduled set with their attempt counter incremented.
func (s *RedisScheduler) requeueExpired(ctx context.Context) error {
	nowMS := time.Now().UnixMilli()

	txn := func(tx *redis.Tx) error {
		members, err := tx.ZRangeByScore(ctx, s.inflightKey(), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(nowMS, 10),
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to read in-flight triggers: %w", err)
		}
		if len(members) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, member := range members {
				var d Delivery
				if err := json.Unmarshal([]byte(member), &d); err != nil {
					// Malformed member: drop it rather than redeliver it forever.
					pipe.ZRem(ctx, s.inflightKey(), member)
					continue
				}

				d.Attempts++
				data, err := json.Marshal(&d)
				if err != nil {
					continue
				}

				pipe.ZRem(ctx, s.inflightKey(), member)
				pipe.ZAdd(ctx, s.scheduledKey(), redis.Z{
					Score:  float64(nowMS),
					Member: string(data),
				})
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txn, s.inflightKey())
	if errors.Is(err, redis.TxFailedErr) {
		// Another consumer is requeuing; it will finish the job.
		return nil
	}
	return err
}

// Close closes the Redis connection.
func (s *RedisScheduler) Close() error {
	return s.client.Close()
}

func (s *RedisScheduler) scheduledKey() string {
	return fmt.Sprintf("%s:triggers:scheduled", s.namespace)
}

func (s *RedisScheduler) inflightKey() string {
	return fmt.Sprintf("%s:triggers:inflight", s.namespace)
}
