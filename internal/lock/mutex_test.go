package lock

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}

	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = time.Millisecond
	}

	if opts.TTL == 0 {
		opts.TTL = time.Minute
	}

	if opts.PreventiveTTL == 0 {
		opts.PreventiveTTL = 10 * time.Minute
	}

	svc := NewService(st.DB(), opts, nil, testLogger())
	// No real sleeping in tests.
	svc.sleepFunc = func(context.Context, time.Duration) error { return nil }

	return svc
}

func TestAcquire_AndRelease(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	lease, err := svc.Acquire(ctx, "ana@gmail.com", "provision", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, lease.ID)
	assert.Equal(t, "ana@gmail.com", lease.Key)

	require.NoError(t, lease.Release(ctx))

	// Released key is immediately acquirable again.
	lease2, err := svc.Acquire(ctx, "ana@gmail.com", "provision", 0)
	require.NoError(t, err)
	require.NoError(t, lease2.Release(ctx))
}

func TestAcquire_ContentionAfterExhaustion(t *testing.T) {
	svc := newTestService(t, Options{MaxAttempts: 3})
	ctx := context.Background()

	lease, err := svc.Acquire(ctx, "ana@gmail.com", "provision", 0)
	require.NoError(t, err)
	defer lease.Release(ctx)

	_, err = svc.Acquire(ctx, "ana@gmail.com", "sync", 0)
	assert.ErrorIs(t, err, ErrContention)
}

func TestAcquire_DifferentKeysIndependent(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	lease1, err := svc.Acquire(ctx, "ana@gmail.com", "provision", 0)
	require.NoError(t, err)
	defer lease1.Release(ctx)

	lease2, err := svc.Acquire(ctx, "bob@gmail.com", "provision", 0)
	require.NoError(t, err)
	defer lease2.Release(ctx)
}

func TestAcquire_ExpiredLeaseIsTakenOver(t *testing.T) {
	svc := newTestService(t, Options{TTL: time.Minute})
	ctx := context.Background()

	now := time.Now()
	svc.nowFunc = func() time.Time { return now }

	_, err := svc.Acquire(ctx, "ana@gmail.com", "provision", 0)
	require.NoError(t, err)

	// Holder crashes; past TTL the next acquire succeeds without any
	// sweeper running.
	now = now.Add(2 * time.Minute)

	lease, err := svc.Acquire(ctx, "ana@gmail.com", "provision", 0)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

func TestAcquire_AtMostOneActiveHolder(t *testing.T) {
	svc := newTestService(t, Options{MaxAttempts: 1})
	ctx := context.Background()

	const workers = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			lease, err := svc.Acquire(ctx, "carol@gmail.com", "provision", 0)
			if err != nil {
				return
			}

			mu.Lock()
			acquired++
			mu.Unlock()

			_ = lease
		}()
	}

	wg.Wait()

	// Without releases, exactly one worker may hold the lease.
	assert.Equal(t, 1, acquired)
}

func TestAcquireGuarded_ResourceExists(t *testing.T) {
	svc := newTestService(t, Options{MaxAttempts: 5})
	ctx := context.Background()

	_, err := svc.AcquireGuarded(ctx, "ana@gmail.com", "provision",
		func(context.Context) (bool, error) { return true, nil })
	require.ErrorIs(t, err, ErrResourceExists)

	// A preventive lock now guards the key: the next caller fails fast
	// without burning the retry budget.
	attempts := 0
	svc.sleepFunc = func(context.Context, time.Duration) error {
		attempts++

		return nil
	}

	_, err = svc.Acquire(ctx, "ana@gmail.com", "provision", 0)
	assert.ErrorIs(t, err, ErrResourceExists)
	assert.Zero(t, attempts)
}

func TestAcquireGuarded_ResourceAbsent(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	lease, err := svc.AcquireGuarded(ctx, "ana@gmail.com", "provision",
		func(context.Context) (bool, error) { return false, nil })
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	wantErr := assert.AnError

	err := svc.WithLock(ctx, "ana@gmail.com", "provision", func(context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	// The lease was released despite the error.
	lease, err := svc.Acquire(ctx, "ana@gmail.com", "provision", 0)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

func TestWithLock_SerializesSameKey(t *testing.T) {
	svc := newTestService(t, Options{MaxAttempts: 50})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = svc.WithLock(ctx, "carol@gmail.com", "provision", func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()

				return nil
			})
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestSweepExpired(t *testing.T) {
	svc := newTestService(t, Options{TTL: time.Minute})
	ctx := context.Background()

	now := time.Now()
	svc.nowFunc = func() time.Time { return now }

	_, err := svc.Acquire(ctx, "a@gmail.com", "provision", 0)
	require.NoError(t, err)
	_, err = svc.Acquire(ctx, "b@gmail.com", "provision", 0)
	require.NoError(t, err)

	// Nothing expired yet.
	swept, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	now = now.Add(2 * time.Minute)

	swept, err = svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, swept)
}
