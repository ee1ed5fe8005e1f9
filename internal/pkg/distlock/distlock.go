// Package distlock provides distributed locks used to guarantee that a
// comment sheet is driven by at most one campaign runner at a time, even
// when several monitor processes share a database.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking. A lock instance
// belongs to a single owner; concurrent owners need separate instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewSheetLock creates a lock scoped to one comment sheet. Redis is
// preferred when available (cross-host, TTL guarded); otherwise the lock
// falls back to a PostgreSQL advisory lock, which is released automatically
// if the session drops.
func NewSheetLock(redisClient *redis.Client, db *sql.DB, sheetRef string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return newRedisLock(redisClient, "sheet:"+sheetRef, ttl)
	}
	return newPGAdvisoryLock(db, "sheet:"+sheetRef)
}

// pgAdvisoryLock implements DistLock using pg_try_advisory_lock with a
// lock ID derived from the key string.
type pgAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

func newPGAdvisoryLock(db *sql.DB, key string) *pgAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &pgAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *pgAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	if err != nil {
		return false, err
	}
	return acquired, nil
}

func (l *pgAdvisoryLock) Release(ctx context.Context) error {
	var released bool
	return l.db.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released)
}
