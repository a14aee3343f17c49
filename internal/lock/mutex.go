// Package lock implements a lease-based distributed mutex over the shared
// locks table. Workers coordinate exclusively through the store — an
// in-process cache would not survive multiple worker processes, so there
// is none. The correctness contract: at most one row per key with
// is_active=1 and expires_at > now, enforced by a partial unique index.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/obs"
)

// Typed failures surfaced to callers. Lock exhaustion is never silently
// ignored; the caller decides whether to resubmit later.
var (
	ErrContention     = errors.New("lock: acquisition budget exhausted")
	ErrResourceExists = errors.New("lock: guarded resource already exists")
)

// preventivePrefix marks operation types written by AcquireGuarded when the
// guarded resource already exists. Racing callers that find a preventive
// holder fail fast instead of burning their whole retry budget.
const preventivePrefix = "preventive:"

// Options tunes the mutex.
type Options struct {
	MaxAttempts   int           // acquisition attempts before ErrContention
	BaseBackoff   time.Duration // linear step between attempts
	TTL           time.Duration // regular lease lifetime
	PreventiveTTL time.Duration // lifetime of preventive locks
}

// Service is the mutex over the locks table. Constructed once per process
// and shared; it holds no lock state in memory.
type Service struct {
	db      *sql.DB
	opts    Options
	owner   string
	metrics *obs.Metrics
	logger  *slog.Logger

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Lease is a held lock. Release it on every exit path; the TTL bounds
// staleness if the owner crashes first.
type Lease struct {
	ID        string
	Key       string
	Operation string
	ExpiresAt time.Time

	svc *Service
}

// NewService creates the mutex service over the shared database handle.
func NewService(db *sql.DB, opts Options, metrics *obs.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	host, _ := os.Hostname()

	return &Service{
		db:      db,
		opts:    opts,
		owner:   fmt.Sprintf("%s/%d", host, os.Getpid()),
		metrics: metrics,
		logger:  logger,
		nowFunc: time.Now,
		sleepFunc: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// Acquire obtains the lease for key, retrying with linearly increasing
// backoff up to MaxAttempts. A uniqueness violation on insert is treated
// identically to "lock held" — it is the expected outcome of the race
// between the existence check and the insert, not a fault.
func (s *Service) Acquire(ctx context.Context, key, operation string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = s.opts.TTL
	}

	var lease *Lease

	backoff := retry.WithMaxRetries(uint64(s.opts.MaxAttempts-1), linearBackoff(s.opts.BaseBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		l, tryErr := s.tryAcquire(ctx, key, operation, ttl)
		if tryErr != nil {
			if errors.Is(tryErr, errHeld) {
				return retry.RetryableError(tryErr)
			}

			return tryErr
		}

		lease = l

		return nil
	})
	if err != nil {
		if errors.Is(err, errHeldPreventive) {
			s.metrics.LockAcquire("preventive_reject")

			return nil, fmt.Errorf("%w: key %s", ErrResourceExists, key)
		}

		if errors.Is(err, errHeld) {
			s.metrics.LockAcquire("contention")
			s.logger.Warn("lock acquisition exhausted",
				slog.String("key", key),
				slog.String("operation", operation),
				slog.Int("attempts", s.opts.MaxAttempts),
			)

			return nil, fmt.Errorf("%w: key %s after %d attempts", ErrContention, key, s.opts.MaxAttempts)
		}

		return nil, err
	}

	s.metrics.LockAcquire("acquired")
	s.logger.Debug("lock acquired",
		slog.String("key", key),
		slog.String("lock_id", lease.ID),
		slog.String("operation", operation),
	)

	return lease, nil
}

// Internal sentinels for the retry loop. errHeldPreventive aborts the
// retry budget early (wrapped non-retryable by tryAcquire).
var (
	errHeld           = errors.New("lock: held")
	errHeldPreventive = errors.New("lock: held by preventive lock")
)

// tryAcquire performs one acquisition attempt: expire stale rows for the
// key, check for an active holder, then conditionally insert.
func (s *Service) tryAcquire(ctx context.Context, key, operation string, ttl time.Duration) (*Lease, error) {
	now := s.nowFunc()

	// Passive expiry for this key; makes TTL-bounded staleness work even
	// when no sweeper runs.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE locks SET is_active = 0 WHERE lock_key = ? AND is_active = 1 AND expires_at < ?`,
		key, now.Unix()); err != nil {
		return nil, fmt.Errorf("lock: expiring stale rows for %s: %w", key, err)
	}

	var holderOp string

	err := s.db.QueryRowContext(ctx,
		`SELECT operation_type FROM locks
		 WHERE lock_key = ? AND is_active = 1 AND expires_at >= ?`,
		key, now.Unix()).Scan(&holderOp)

	switch {
	case err == nil:
		if strings.HasPrefix(holderOp, preventivePrefix) {
			return nil, errHeldPreventive
		}

		return nil, errHeld
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lock: checking holder for %s: %w", key, err)
	}

	lockID := uuid.NewString()
	expiresAt := now.Add(ttl)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO locks (lock_id, lock_key, operation_type, owner_ref, acquired_at, expires_at, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, 1)`,
		lockID, key, operation, s.owner, now.Unix(), expiresAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race between check and insert. Same as "held".
			return nil, errHeld
		}

		return nil, fmt.Errorf("lock: inserting lock row for %s: %w", key, err)
	}

	return &Lease{
		ID:        lockID,
		Key:       key,
		Operation: operation,
		ExpiresAt: expiresAt,
		svc:       s,
	}, nil
}

// AcquireGuarded is the hardened variant: precheck inspects the guarded
// resource before the lock is taken. If the resource already exists, a
// longer-lived preventive lock is written so concurrent callers fail fast,
// and ErrResourceExists is returned.
func (s *Service) AcquireGuarded(ctx context.Context, key, operation string, precheck func(context.Context) (bool, error)) (*Lease, error) {
	exists, err := precheck(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock: precheck for %s: %w", key, err)
	}

	if exists {
		s.writePreventive(ctx, key, operation)

		return nil, fmt.Errorf("%w: key %s", ErrResourceExists, key)
	}

	return s.Acquire(ctx, key, operation, s.opts.TTL)
}

// writePreventive best-effort inserts a preventive lock. A conflict means
// someone else already holds the key, which serves the same purpose.
func (s *Service) writePreventive(ctx context.Context, key, operation string) {
	now := s.nowFunc()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locks (lock_id, lock_key, operation_type, owner_ref, acquired_at, expires_at, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, 1)`,
		uuid.NewString(), key, preventivePrefix+operation, s.owner,
		now.Unix(), now.Add(s.opts.PreventiveTTL).Unix())
	if err != nil && !isUniqueViolation(err) {
		s.logger.Warn("failed to write preventive lock",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Release flips the lease inactive and records the release time. Safe to
// call after expiry; releasing an already-released lease is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	_, err := l.svc.db.ExecContext(ctx,
		`UPDATE locks SET is_active = 0, released_at = ? WHERE lock_id = ? AND is_active = 1`,
		l.svc.nowFunc().Unix(), l.ID)
	if err != nil {
		return fmt.Errorf("lock: releasing %s: %w", l.ID, err)
	}

	l.svc.logger.Debug("lock released",
		slog.String("key", l.Key),
		slog.String("lock_id", l.ID),
	)

	return nil
}

// WithLock runs fn while holding the lease for key, releasing on every
// exit path including panic. Release uses a background context so that a
// canceled ctx cannot leave the row active until TTL expiry.
func (s *Service) WithLock(ctx context.Context, key, operation string, fn func(context.Context) error) error {
	lease, err := s.Acquire(ctx, key, operation, s.opts.TTL)
	if err != nil {
		return err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if relErr := lease.Release(releaseCtx); relErr != nil {
			s.logger.Warn("lock release failed, TTL will expire it",
				slog.String("key", key),
				slog.String("lock_id", lease.ID),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	return fn(ctx)
}

// linearBackoff returns delays step, 2*step, 3*step, ...
func linearBackoff(step time.Duration) retry.Backoff {
	var attempt int64

	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++

		return time.Duration(attempt) * step, false
	})
}

// isUniqueViolation reports whether err is the SQLite unique-constraint
// error raised by the partial index on active lock keys.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE
	}

	return false
}
