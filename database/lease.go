// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/redis/go-redis/v9"
	"github.com/spaolacci/murmur3"
)

const leaseRetryInterval = 100 * time.Millisecond

// advisoryLockKey maps a lease name onto the bigint key space of postgres
// advisory locks.
func advisoryLockKey(key string) int64 {
	return int64(murmur3.Sum64([]byte(key))) // #nosec G115
}

// waitFor calls try until it succeeds, fails or wait elapsed. A done parent
// context is returned as is, only the elapsed wait is a lock timeout.
func waitFor(ctx context.Context, key string, wait time.Duration, try func(ctx context.Context) (bool, error)) error {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(leaseRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := try(waitCtx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && waitCtx.Err() == nil {
			return err
		}
		if err == nil && ok {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return shared.LockTimeoutError{Key: key}
		case <-ticker.C:
		}
	}
}

// advisoryLockLease holds a session level advisory lock on a dedicated
// connection until the lease is released.
type advisoryLockLease struct {
	pool *pgxpool.Pool
}

func NewAdvisoryLockLease(pool *pgxpool.Pool) *advisoryLockLease {
	return &advisoryLockLease{pool: pool}
}

func (l *advisoryLockLease) Obtain(ctx context.Context, key string, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	acquireCtx, cancel := context.WithDeadline(ctx, deadline)
	conn, err := l.pool.Acquire(acquireCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, shared.LockTimeoutError{Key: key}
		}
		return nil, fmt.Errorf("could not acquire connection for lease %s: %w", key, err)
	}
	lockKey := advisoryLockKey(key)

	err = waitFor(ctx, key, time.Until(deadline), func(ctx context.Context) (bool, error) {
		var locked bool
		err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockKey).Scan(&locked)
		return locked, err
	})
	if err != nil {
		conn.Release()
		return nil, err
	}

	return func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockKey); err != nil {
			slog.Error("could not release advisory lock", "key", key, "err", err)
			// a session lock dies with its connection
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}

// compare and delete, a lease is only released by its holder
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLease struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLease expires leases after ttl even when the holder never releases them.
func NewRedisLease(client *redis.Client, ttl time.Duration) *redisLease {
	return &redisLease{client: client, ttl: ttl}
}

func (l *redisLease) Obtain(ctx context.Context, key string, wait time.Duration) (func(), error) {
	token := uuid.NewString()
	err := waitFor(ctx, key, wait, func(ctx context.Context) (bool, error) {
		return l.client.SetNX(ctx, key, token, l.ttl).Result()
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Err(); err != nil {
			slog.Error("could not release redis lease", "key", key, "err", err)
		}
	}, nil
}

// LeaseFactory selects the lease backend. COMMENT_LOCK_BACKEND=redis uses
// REDIS_ADDR, everything else uses postgres advisory locks.
func LeaseFactory(pool *pgxpool.Pool, backend string, redisAddr string) shared.Lease {
	if backend == "redis" {
		slog.Info("using redis lease backend", "addr", redisAddr)
		return NewRedisLease(redis.NewClient(&redis.Options{Addr: redisAddr}), time.Minute)
	}
	return NewAdvisoryLockLease(pool)
}
