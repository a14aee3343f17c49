// Package syncer implements the bounded-concurrency bidirectional sync
// engine. A batch is split into fixed-size chunks processed sequentially;
// items within a chunk run concurrently, each under the per-employee lock.
// Per-item failures are recorded on the job and never abort the batch.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/drive"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/obs"
	"github.com/brifyai/BrifyRRHHv3-sub004/internal/store"
)

// Direction selects which store is authoritative for an item's metadata.
type Direction string

const (
	DirectionRemoteToLocal Direction = "remote_to_local"
	DirectionLocalToRemote Direction = "local_to_remote"
	DirectionBidirectional Direction = "bidirectional"
)

const (
	defaultChunkSize  = 3
	defaultChunkPause = 500 * time.Millisecond
)

// FolderAPI is the slice of the provider client the engine needs.
// Satisfied by *drive.Client.
type FolderAPI interface {
	GetFolder(ctx context.Context, folderID string) (*drive.Folder, error)
}

// Rebuilder recreates a missing remote folder for a local row. Satisfied
// by *provision.Provisioner.
type Rebuilder interface {
	RecreateFolder(ctx context.Context, row *store.EmployeeFolder) (*drive.Folder, error)
}

// Locker is the mutex surface the engine depends on. Satisfied by
// *lock.Service.
type Locker interface {
	WithLock(ctx context.Context, key, operation string, fn func(context.Context) error) error
}

// Options configures one batch invocation. Zero values take engine
// defaults.
type Options struct {
	Direction     Direction
	CreateMissing bool
	ChunkSize     int
	ChunkPause    time.Duration

	// OnProgress fires after every chunk.
	OnProgress func(jobID string, completed, failed, total int)
	// OnComplete fires once when the batch finishes or is cancelled.
	OnComplete func(jobID string, success bool, snap Snapshot)
	// OnError fires when the batch aborts as a whole (context death),
	// not for per-item failures.
	OnError func(jobID string, err error)
}

// Engine runs sync batches. Construct once per process and share.
type Engine struct {
	api       FolderAPI
	rebuilder Rebuilder
	folders   *store.FolderStore
	locks     Locker
	registry  *Registry
	breaker   *breaker
	metrics   *obs.Metrics
	logger    *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration)
	nowFunc   func() time.Time
}

// NewEngine wires a sync engine. breakerThreshold consecutive item
// failures open the breaker for breakerCooldown.
func NewEngine(
	api FolderAPI,
	rebuilder Rebuilder,
	folders *store.FolderStore,
	locks Locker,
	registry *Registry,
	breakerThreshold int,
	breakerCooldown time.Duration,
	metrics *obs.Metrics,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		api:       api,
		rebuilder: rebuilder,
		folders:   folders,
		locks:     locks,
		registry:  registry,
		breaker:   newBreaker(breakerThreshold, breakerCooldown),
		metrics:   metrics,
		logger:    logger,
		sleepFunc: sleepWithContext,
		nowFunc:   time.Now,
	}
}

// SyncBatch starts processing the rows asynchronously and returns the
// job immediately. Observe completion via Job.Done, the snapshot, or the
// callbacks in opts.
func (e *Engine) SyncBatch(ctx context.Context, rows []store.EmployeeFolder, opts Options) *Job {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}

	if opts.ChunkPause <= 0 {
		opts.ChunkPause = defaultChunkPause
	}

	if opts.Direction == "" {
		opts.Direction = DirectionBidirectional
	}

	job := newJob(len(rows), e.nowFunc())
	e.registry.add(job)

	e.logger.Info("sync batch started",
		slog.String("job_id", job.ID()),
		slog.Int("total", len(rows)),
		slog.Int("chunk_size", opts.ChunkSize),
		slog.String("direction", string(opts.Direction)),
	)

	go e.run(ctx, job, rows, opts)

	return job
}

func (e *Engine) run(ctx context.Context, job *Job, rows []store.EmployeeFolder, opts Options) {
	defer func() {
		job.finish(e.nowFunc())

		snap := job.Snapshot()

		e.logger.Info("sync batch finished",
			slog.String("job_id", snap.ID),
			slog.String("status", snap.Status),
			slog.Int("completed", snap.Completed),
			slog.Int("failed", snap.Failed),
		)

		if opts.OnComplete != nil {
			opts.OnComplete(snap.ID, snap.Status == StatusCompleted && snap.Failed == 0, snap)
		}
	}()

	for start := 0; start < len(rows); start += opts.ChunkSize {
		// Cancellation is cooperative and checked between chunks only;
		// items already started always complete.
		if job.isCancelled() {
			return
		}

		if err := ctx.Err(); err != nil {
			job.Cancel()

			if opts.OnError != nil {
				opts.OnError(job.ID(), err)
			}

			return
		}

		end := min(start+opts.ChunkSize, len(rows))
		chunk := rows[start:end]

		group, groupCtx := errgroup.WithContext(context.WithoutCancel(ctx))
		group.SetLimit(opts.ChunkSize)

		for i := range chunk {
			row := chunk[i]

			group.Go(func() error {
				job.setCurrent(row.EmployeeEmail)

				res, err := e.syncItem(groupCtx, &row, opts)
				if err != nil {
					job.recordError(row.EmployeeEmail, err)
					e.breaker.recordFailure()
					e.metrics.SyncItem("failed")

					e.logger.Warn("sync item failed",
						slog.String("job_id", job.ID()),
						slog.String("email", row.EmployeeEmail),
						slog.String("error", err.Error()),
					)

					// Errors are aggregated on the job, never propagated
					// through the group.
					return nil
				}

				job.recordResult(res)
				e.breaker.recordSuccess()
				e.metrics.SyncItem(res.Action)

				return nil
			})
		}

		_ = group.Wait()

		if opts.OnProgress != nil {
			completed, failed, total := job.progress()
			opts.OnProgress(job.ID(), completed, failed, total)
		}

		if end < len(rows) {
			e.sleepFunc(ctx, opts.ChunkPause)
		}
	}
}

func (e *Engine) syncItem(ctx context.Context, row *store.EmployeeFolder, opts Options) (ItemResult, error) {
	if err := e.breaker.allow(); err != nil {
		return ItemResult{}, err
	}

	var res ItemResult

	err := e.locks.WithLock(ctx, row.EmployeeEmail, "sync", func(ctx context.Context) error {
		var itemErr error
		res, itemErr = e.syncLocked(ctx, row, opts)

		return itemErr
	})

	return res, err
}

func (e *Engine) syncLocked(ctx context.Context, row *store.EmployeeFolder, opts Options) (ItemResult, error) {
	res := ItemResult{
		Email:    row.EmployeeEmail,
		FolderID: row.RemoteFolderID,
		Action:   "unchanged",
	}

	var remote *drive.Folder

	if row.RemoteFolderID != "" {
		folder, err := e.api.GetFolder(ctx, row.RemoteFolderID)
		if err != nil && !errors.Is(err, drive.ErrNotFound) {
			return res, fmt.Errorf("syncer: probing remote folder for %s: %w", row.EmployeeEmail, err)
		}

		remote = folder
	}

	if remote == nil {
		if !opts.CreateMissing || opts.Direction == DirectionRemoteToLocal {
			return res, fmt.Errorf("syncer: remote folder missing for %s", row.EmployeeEmail)
		}

		folder, err := e.rebuilder.RecreateFolder(ctx, row)
		if err != nil {
			return res, err
		}

		if err := e.folders.UpdateRemote(ctx, row.EmployeeEmail, folder.ID, folder.WebURL); err != nil {
			return res, err
		}

		res.FolderID = folder.ID
		res.Action = "created"

		return res, nil
	}

	switch opts.Direction {
	case DirectionLocalToRemote:
		// Existence confirmed; local metadata is authoritative and the
		// provider carries nothing further to push for a folder.
	default:
		if remote.WebURL != "" && remote.WebURL != row.RemoteFolderURL {
			if err := e.folders.UpdateRemote(ctx, row.EmployeeEmail, remote.ID, remote.WebURL); err != nil {
				return res, err
			}

			res.Action = "updated"
		}
	}

	return res, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
