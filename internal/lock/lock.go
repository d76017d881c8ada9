package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailwatch-go/internal/models"
)

// Locker is a cross-process, non-blocking mutual-exclusion primitive
// keyed by an arbitrary identifier. WithLock runs fn only if the key
// was acquired; contention returns acquired=false immediately without
// queuing.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (acquired bool, err error)
}

// DBLocker implements Locker through the database: the per-key lock row
// is held with SELECT ... FOR UPDATE NOWAIT for the lifetime of a
// transaction, so the lock is released by commit or rollback even if
// the holding process dies. Kept database-backed on purpose: the
// scheduler may run as multiple independent processes.
type DBLocker struct {
	db      *gorm.DB
	maxHold time.Duration
}

// NewDBLocker creates a database-backed locker. maxHold bounds how long
// a transaction may hold a lock before it is forcibly aborted.
func NewDBLocker(db *gorm.DB, maxHold time.Duration) *DBLocker {
	return &DBLocker{db: db, maxHold: maxHold}
}

// WithLock try-acquires the key inside a transaction and runs fn while
// holding it.
func (l *DBLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.maxHold)
	defer cancel()

	// Ensure the lock row exists; racing creators both proceed to the
	// try-acquire below.
	err := l.db.WithContext(ctx).
		Where(models.TenantLock{Key: key}).
		FirstOrCreate(&models.TenantLock{Key: key}).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, fmt.Errorf("failed to ensure lock row for key %s: %w", key, err)
	}

	acquired := false
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.TenantLock
		result := tx.Raw("SELECT lock_key FROM tenant_locks WHERE lock_key = ? FOR UPDATE NOWAIT", key).Scan(&row)
		if result.Error != nil {
			if isLockContention(result.Error) {
				return errNotAcquired
			}
			return fmt.Errorf("failed to acquire lock for key %s: %w", key, result.Error)
		}

		acquired = true
		logrus.Debugf("Acquired advisory lock for key %s", key)
		return fn(ctx)
	})

	if errors.Is(err, errNotAcquired) {
		return false, nil
	}
	return acquired, err
}

var errNotAcquired = errors.New("lock not acquired")

// isLockContention recognizes the MySQL NOWAIT rejection (error 3572,
// "lock is set" / lock wait timeout family).
func isLockContention(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NOWAIT") ||
		strings.Contains(msg, "3572") ||
		strings.Contains(msg, "Lock wait timeout")
}

// MemoryLocker is an in-process Locker with the same try-acquire
// contract, used by tests and single-process deployments.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// WithLock try-acquires the key and runs fn while holding it.
func (l *MemoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	l.mu.Lock()
	if _, taken := l.held[key]; taken {
		l.mu.Unlock()
		return false, nil
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return true, fn(ctx)
}
