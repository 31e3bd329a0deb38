package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvidae/fetchmux/internal/core/loadrequest"
	"github.com/corvidae/fetchmux/internal/core/request"
	"github.com/corvidae/fetchmux/internal/core/scheduler"
	"github.com/corvidae/fetchmux/internal/errs"
	"github.com/corvidae/fetchmux/internal/models"
)

type DownloadDeps struct {
	Repo        models.Repository
	Publisher   models.EventPublisher
	Validator   models.Validator
	Planner     models.SegmentPlanner
	RateLimiter models.RateLimiter
	FileStore   models.FileStore
	Transport   models.TransportClient

	// ChunkCountDefault seeds LoadRequest.Options.ChunkCount when a
	// download's own DownloadConfig.MaxConnections is unset.
	ChunkCountDefault int
}

// DownloadServiceImpl implements models.DownloadService by building one
// loadrequest.LoadRequest per download and submitting it to the shared
// scheduler.Foreground/Background dispatch loop, replacing the teacher's
// own DownloadRunner goroutine-per-download loop (see runner.go's removal
// note in DESIGN.md). Persistence and event fan-out both hang off the
// LoadRequest's progress hook and the trackedRequest completion wrapper
// below, so the CORE engine itself stays free of a Repository dependency.
type DownloadServiceImpl struct {
	deps DownloadDeps

	mu      sync.Mutex
	running map[string]*loadrequest.LoadRequest
}

func NewDownloadService(deps DownloadDeps) *DownloadServiceImpl {
	return &DownloadServiceImpl{deps: deps, running: make(map[string]*loadrequest.LoadRequest)}
}

func (s *DownloadServiceImpl) Enqueue(ctx context.Context, req models.EnqueueDownloadRequest) (models.EnqueueDownloadResponse, error) {
	if req.URL == "" && (req.Request == nil || req.Request.URL == "") {
		return models.EnqueueDownloadResponse{}, errors.New("url is required")
	}
	if req.Request == nil {
		req.Request = &models.RequestOptions{URL: req.URL}
	}
	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidateRequest(*req.Request); err != nil {
			return models.EnqueueDownloadResponse{}, err
		}
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	d := &models.Download{
		ID:        id,
		URL:       req.Request.URL,
		QueueID:   req.QueueID,
		Priority:  req.Priority,
		Tags:      req.Tags,
		Request:   req.Request,
		Config:    req.Config,
		File:      req.File,
		Status:    models.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if d.QueueID == "" {
		d.QueueID = models.DefaultQueueName
	}
	if err := s.deps.Repo.CreateDownload(ctx, d); err != nil {
		return models.EnqueueDownloadResponse{}, err
	}
	_ = s.publish(ctx, models.EventEnqueued, *d, nil)
	return models.EnqueueDownloadResponse{ID: d.ID, QueueID: d.QueueID, Status: d.Status}, nil
}

// Start builds a LoadRequest from the persisted Download and submits it to
// the scheduler tier its priority resolves to. It is also the resume path:
// LoadRequest.Options.ResumeIfExists reuses any live ChunkCoordinator for
// this ID, and OpenSegmentWriter's existing-bytes return lets a fresh
// coordinator pick back up from whatever .part bytes already landed.
func (s *DownloadServiceImpl) Start(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, exists := s.running[id]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	d, err := s.deps.Repo.GetDownload(ctx, id)
	if err != nil {
		return err
	}
	if s.deps.RateLimiter != nil && d.Config != nil && d.Config.RateLimit > 0 {
		s.deps.RateLimiter.SetLimit(id, d.Config.RateLimit)
	}
	if err := s.updateStatus(ctx, id, models.StatusRunning, func(d *models.Download) {
		now := time.Now().UTC()
		d.StartedAt = &now
	}); err != nil {
		return err
	}

	lr, err := s.newLoadRequest(d)
	if err != nil {
		return err
	}
	if err := lr.Transition(request.Waiting, nil); err != nil {
		return err
	}
	if err := lr.Transition(request.Available, nil); err != nil {
		return err
	}

	s.mu.Lock()
	s.running[id] = lr
	s.mu.Unlock()

	if err := s.schedulerFor(d).Submit(&trackedRequest{LoadRequest: lr, svc: s, id: id}); err != nil {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *DownloadServiceImpl) Resume(ctx context.Context, id string) error {
	return s.Start(ctx, id)
}

func (s *DownloadServiceImpl) Pause(ctx context.Context, id string) error {
	s.mu.Lock()
	lr, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		lr.Pause()
	}
	return s.updateStatus(ctx, id, models.StatusPaused, nil)
}

func (s *DownloadServiceImpl) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	lr, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		lr.Cancel(errs.ErrRequestCancelled)
	}
	return s.updateStatus(ctx, id, models.StatusCancelled, nil)
}

func (s *DownloadServiceImpl) Remove(ctx context.Context, id string, deleteFiles bool) error {
	s.mu.Lock()
	lr, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		lr.Cancel(errs.ErrRequestCancelled)
	}

	d, err := s.deps.Repo.GetDownload(ctx, id)
	if err != nil {
		return err
	}
	if err := s.deps.Repo.DeleteDownload(ctx, id); err != nil {
		return err
	}
	if deleteFiles && s.deps.FileStore != nil {
		_ = s.deps.FileStore.RemoveDownloadFiles(ctx, d)
	}
	_ = s.publish(ctx, models.EventCancelled, *d, map[string]any{"deleted": true})
	return nil
}

func (s *DownloadServiceImpl) Get(ctx context.Context, id string) (*models.Download, error) {
	return s.deps.Repo.GetDownload(ctx, id)
}

func (s *DownloadServiceImpl) List(ctx context.Context, options models.ListDownloadsOptions, limit, offset int) ([]models.Download, error) {
	return s.deps.Repo.ListDownloads(ctx, options, limit, offset)
}

func (s *DownloadServiceImpl) Count(ctx context.Context, options models.ListDownloadsOptions) (int, error) {
	return s.deps.Repo.CountDownloads(ctx, options)
}

func (s *DownloadServiceImpl) UpdateConfig(ctx context.Context, id string, cfg models.DownloadConfig) error {
	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidateConfig(cfg); err != nil {
			return err
		}
	}
	return s.deps.Repo.RunInTx(ctx, func(ctx context.Context, tx models.Repository) error {
		d, err := tx.GetDownload(ctx, id)
		if err != nil {
			return err
		}
		if d.Config == nil {
			d.Config = &models.DownloadConfig{}
		}
		*d.Config = cfg
		return tx.UpdateDownload(ctx, d)
	})
}

func (s *DownloadServiceImpl) UpdateRequest(ctx context.Context, id string, req models.RequestOptions) error {
	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidateRequest(req); err != nil {
			return err
		}
	}
	return s.deps.Repo.RunInTx(ctx, func(ctx context.Context, tx models.Repository) error {
		d, err := tx.GetDownload(ctx, id)
		if err != nil {
			return err
		}
		if d.Request == nil {
			d.Request = &models.RequestOptions{}
		}
		*d.Request = req
		return tx.UpdateDownload(ctx, d)
	})
}

func (s *DownloadServiceImpl) SetPriority(ctx context.Context, id string, priority int) error {
	return s.deps.Repo.RunInTx(ctx, func(ctx context.Context, tx models.Repository) error {
		d, err := tx.GetDownload(ctx, id)
		if err != nil {
			return err
		}
		d.Priority = priority
		return tx.UpdateDownload(ctx, d)
	})
}

func (s *DownloadServiceImpl) AddTags(ctx context.Context, id string, tags ...string) error {
	return s.deps.Repo.RunInTx(ctx, func(ctx context.Context, tx models.Repository) error {
		d, err := tx.GetDownload(ctx, id)
		if err != nil {
			return err
		}
		existing := make(map[string]struct{})
		for _, t := range d.Tags {
			existing[strings.ToLower(t)] = struct{}{}
		}
		for _, t := range tags {
			if t == "" {
				continue
			}
			lt := strings.ToLower(t)
			if _, ok := existing[lt]; !ok {
				d.Tags = append(d.Tags, t)
				existing[lt] = struct{}{}
			}
		}
		return tx.UpdateDownload(ctx, d)
	})
}

func (s *DownloadServiceImpl) RemoveTags(ctx context.Context, id string, tags ...string) error {
	return s.deps.Repo.RunInTx(ctx, func(ctx context.Context, tx models.Repository) error {
		d, err := tx.GetDownload(ctx, id)
		if err != nil {
			return err
		}
		remove := make(map[string]struct{})
		for _, t := range tags {
			remove[strings.ToLower(t)] = struct{}{}
		}
		var filtered []string
		for _, t := range d.Tags {
			if _, ok := remove[strings.ToLower(t)]; !ok {
				filtered = append(filtered, t)
			}
		}
		d.Tags = filtered
		return tx.UpdateDownload(ctx, d)
	})
}

func (s *DownloadServiceImpl) AssignQueue(ctx context.Context, id string, queueID string) error {
	return s.deps.Repo.RunInTx(ctx, func(ctx context.Context, tx models.Repository) error {
		d, err := tx.GetDownload(ctx, id)
		if err != nil {
			return err
		}
		d.QueueID = queueID
		return tx.UpdateDownload(ctx, d)
	})
}

// newLoadRequest translates a persisted Download into the CORE engine's own
// Options/Deps pair. QueueID becomes QueueName so LoadRequest can reserve
// against the RateLimiter's queue-scoped key alongside its global one.
func (s *DownloadServiceImpl) newLoadRequest(d *models.Download) (*loadrequest.LoadRequest, error) {
	opts := loadrequest.Options{
		ID:             d.ID,
		Priority:       d.Priority,
		QueueName:      d.QueueID,
		Tags:           d.Tags,
		ResumeIfExists: true,
	}
	if d.Request != nil {
		opts.Request = *d.Request
	}
	if d.Config != nil {
		opts.Config = *d.Config
		if d.Config.MaxConnections > 0 {
			opts.ChunkCount = d.Config.MaxConnections
		}
	}
	if opts.ChunkCount == 0 {
		opts.ChunkCount = s.deps.ChunkCountDefault
	}
	if d.File != nil {
		opts.File = *d.File
	}

	deps := loadrequest.Deps{
		Transport:   s.deps.Transport,
		FileStore:   s.deps.FileStore,
		Planner:     s.deps.Planner,
		RateLimiter: s.deps.RateLimiter,
		Publisher:   s.deps.Publisher,
		OnProgress: func(bytesCompleted, bytesTotal int64) {
			s.onProgress(d.ID, bytesCompleted, bytesTotal)
		},
	}
	// Submit lets a sibling chunk occupy its own DynamicSemaphore permit on
	// the same tier as the root instead of running as a raw goroutine; the
	// sibling is submitted bare, not wrapped in trackedRequest, since
	// Repository/EventPublisher bookkeeping belongs to the root download
	// only.
	deps.Submit = func(r request.Request) error {
		return s.schedulerFor(d).Submit(r)
	}
	return loadrequest.New(opts, deps)
}

func (s *DownloadServiceImpl) schedulerFor(d *models.Download) *scheduler.Scheduler {
	if d.Priority < 0 {
		return scheduler.GetBackground()
	}
	return scheduler.GetForeground()
}

// onProgress is the LoadRequest.Deps.OnProgress hook: it persists the
// aggregate byte counters and fans out a progress event, standing in for
// the direct Repo/Publisher calls the teacher's DownloadRunner made inline.
func (s *DownloadServiceImpl) onProgress(id string, bytesCompleted, bytesTotal int64) {
	ctx := context.Background()
	_ = s.deps.Repo.RunInTx(ctx, func(ctx context.Context, tx models.Repository) error {
		d, err := tx.GetDownload(ctx, id)
		if err != nil {
			return err
		}
		d.BytesCompleted = bytesCompleted
		if bytesTotal > 0 {
			d.BytesTotal = bytesTotal
			d.Progress = float64(bytesCompleted) / float64(bytesTotal)
		}
		d.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateDownload(ctx, d); err != nil {
			return err
		}
		return s.publish(ctx, models.EventProgress, *d, map[string]any{"bytes_completed": bytesCompleted, "bytes_total": bytesTotal})
	})
}

// finish runs once a submitted request's Run returns, whether it completed,
// failed, or was cancelled out from under the scheduler by Pause/Cancel. A
// Pause/Cancel already wrote the terminal status itself, so a Cancelled
// outcome here is expected and must not be overwritten with Failed.
func (s *DownloadServiceImpl) finish(id string, runErr error) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()

	ctx := context.Background()
	if runErr == nil {
		_ = s.updateStatus(ctx, id, models.StatusCompleted, func(d *models.Download) {
			now := time.Now().UTC()
			d.CompletedAt = &now
			d.Progress = 1
			d.Error = ""
		})
		return
	}
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, errs.ErrRequestCancelled) ||
		errors.Is(runErr, errs.ErrInvalidState) || errors.Is(runErr, errs.ErrRequestPaused) {
		return
	}
	_ = s.updateStatus(ctx, id, models.StatusFailed, func(d *models.Download) {
		d.Error = runErr.Error()
	})
}

func (s *DownloadServiceImpl) updateStatus(ctx context.Context, id string, status models.DownloadStatus, mutate func(*models.Download)) error {
	return s.deps.Repo.RunInTx(ctx, func(ctx context.Context, tx models.Repository) error {
		d, err := tx.GetDownload(ctx, id)
		if err != nil {
			return err
		}
		d.Status = status
		if mutate != nil {
			mutate(d)
		}
		d.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateDownload(ctx, d); err != nil {
			return err
		}
		err = s.publish(ctx, mapStatusToEvent(status), *d, nil)
		if err != nil {
			return err
		}
		return nil
	})
}

func (s *DownloadServiceImpl) publish(ctx context.Context, typ models.DownloadEventType, d models.Download, data map[string]any) error {
	if s.deps.Publisher == nil {
		return nil
	}
	return s.deps.Publisher.Publish(ctx, models.DownloadEvent{Type: typ, Download: d, Timestamp: time.Now().UTC(), Data: data})
}

func mapStatusToEvent(st models.DownloadStatus) models.DownloadEventType {
	switch st {
	case models.StatusQueued:
		return models.EventEnqueued
	case models.StatusRunning:
		return models.EventStarted
	case models.StatusPaused:
		return models.EventPaused
	case models.StatusCompleted:
		return models.EventCompleted
	case models.StatusFailed:
		return models.EventFailed
	case models.StatusCancelled:
		return models.EventCancelled
	default:
		return models.EventProgress
	}
}

// trackedRequest wraps a submitted LoadRequest so the scheduler's own
// completion path (semaphore release, running-set cleanup) also triggers
// this service's Repository/EventPublisher bookkeeping once Run returns.
type trackedRequest struct {
	*loadrequest.LoadRequest
	svc *DownloadServiceImpl
	id  string
}

func (t *trackedRequest) Run(ctx context.Context) error {
	err := t.LoadRequest.Run(ctx)
	t.svc.finish(t.id, err)
	return err
}
