package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Config configures the etcd-backed locker.
type Config struct {
	// Endpoints is the list of etcd endpoints (e.g., ["localhost:2379"]).
	Endpoints []string

	// Namespace prefixes every lock key. Defaults to "paceline".
	Namespace string

	// DialTimeout is the maximum time to wait when connecting to etcd.
	// Defaults to 5 seconds.
	DialTimeout time.Duration
}

// EtcdLocker implements Locker using etcd leases.
//
// Acquire grants an etcd lease with the requested TTL and attempts a
// create-if-absent transaction on the lock key. If the key already exists the
// lease is revoked and ErrHeld is returned. Because the key is bound to the
// lease, a holder that crashes without releasing loses the lock automatically
// when the lease expires.
//
// Thread-safety: all methods are safe for concurrent use.
type EtcdLocker struct {
	client    *clientv3.Client
	namespace string
	owner     string
}

// NewEtcdLocker creates a locker connected to the given etcd cluster.
func NewEtcdLocker(cfg Config) (*EtcdLocker, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("lease endpoints cannot be empty")
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "paceline"
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	// Verify connectivity with a quick health check
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = cli.Get(ctx, "health-check")
	if err != nil && err != context.DeadlineExceeded {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &EtcdLocker{
		client:    cli,
		namespace: namespace,
		owner:     uuid.New().String(),
	}, nil
}

// Acquire takes the named lease for at most ttl.
func (l *EtcdLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if key == "" {
		return nil, fmt.Errorf("lease key cannot be empty")
	}

	grant, err := l.client.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to create lease: %w", err)
	}

	lockKey := l.lockKey(key)

	resp, err := l.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(lockKey), "=", 0)).
		Then(clientv3.OpPut(lockKey, l.owner, clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		// Best effort: don't leak the lease on a failed transaction.
		_, _ = l.client.Revoke(ctx, grant.ID)
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}

	if !resp.Succeeded {
		_, _ = l.client.Revoke(ctx, grant.ID)
		return nil, fmt.Errorf("lease %s: %w", key, ErrHeld)
	}

	return &etcdLease{client: l.client, leaseID: grant.ID}, nil
}

// Close closes the etcd connection.
func (l *EtcdLocker) Close() error {
	return l.client.Close()
}

func (l *EtcdLocker) lockKey(key string) string {
	return fmt.Sprintf("%s/locks/%s", l.namespace, key)
}

// ttlSeconds converts a duration to whole etcd lease seconds, rounding up so
// a sub-second TTL still grants a usable lease.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

type etcdLease struct {
	client  *clientv3.Client
	leaseID clientv3.LeaseID
}

// Release revokes the lease, which deletes the bound lock key.
func (e *etcdLease) Release(ctx context.Context) error {
	if _, err := e.client.Revoke(ctx, e.leaseID); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
