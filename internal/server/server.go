package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/corvidae/fetchmux/internal/api"
	"github.com/corvidae/fetchmux/internal/api/deps"
	"github.com/corvidae/fetchmux/internal/auth"
	"github.com/corvidae/fetchmux/internal/config"
	"github.com/corvidae/fetchmux/internal/core/scheduler"
	"github.com/corvidae/fetchmux/internal/events"
	"github.com/corvidae/fetchmux/internal/filestore"
	"github.com/corvidae/fetchmux/internal/models"
	"github.com/corvidae/fetchmux/internal/planner"
	"github.com/corvidae/fetchmux/internal/ratelimit"
	"github.com/corvidae/fetchmux/internal/repository"
	"github.com/corvidae/fetchmux/internal/service"
	"github.com/corvidae/fetchmux/internal/transport"
	"github.com/corvidae/fetchmux/internal/validation"
)

type Server struct {
	cfg       config.Config
	repo      *repository.BadgerRepository
	workerMgr *service.WorkerManager
	httpSrv   *http.Server
}

func New(cfg config.Config) (*Server, error) {
	repo, err := repository.NewBadgerRepository(cfg.BadgerDir)
	if err != nil {
		return nil, err
	}

	publisher := events.NewInMemoryPublisher()
	validator := validation.URLValidator{}
	segPlanner := planner.EvenSplitPlanner{}
	ratelimiter := ratelimit.New()
	transportClient := transport.NewHTTPClient(0)
	fileStore := filestore.NewLocalFileStore()

	// Ensure default queue exists
	if _, err := repo.GetQueue(context.Background(), models.DefaultQueueName); err != nil {
		_ = repo.SaveQueue(context.Background(), &models.Queue{ID: models.DefaultQueueName, Name: models.DefaultQueueName, Concurrency: 32, Default: true})
	}
	// Apply global rate limit if configured
	if cfg.GlobalRateLimitBPS > 0 {
		ratelimiter.SetLimit("global", cfg.GlobalRateLimitBPS)
	}

	if cfg.ForegroundConcurrency > 0 {
		scheduler.GetForeground().Resize(cfg.ForegroundConcurrency)
	}
	if cfg.BackgroundConcurrency > 0 {
		scheduler.GetBackground().Resize(cfg.BackgroundConcurrency)
	}

	downloadSvc := service.NewDownloadService(service.DownloadDeps{
		Repo:              repo,
		Publisher:         publisher,
		Validator:         validator,
		Planner:           segPlanner,
		RateLimiter:       ratelimiter,
		FileStore:         fileStore,
		Transport:         transportClient,
		ChunkCountDefault: cfg.ChunkCountDefault,
	})
	queueSvc := service.NewQueueService(repo)
	container := deps.New(downloadSvc, queueSvc, publisher)
	h, _ := api.NewServer(container)

	// Apply authentication middleware if enabled
	if cfg.EnableAuth && cfg.APIKey != "" {
		authMiddleware := auth.NewAPIKeyAuth(cfg.APIKey)
		h = authMiddleware.HumaMiddleware()(h)
	}

	addr := ":" + fmt.Sprintf("%d", resolvePort(cfg))
	httpSrv := &http.Server{Addr: addr, Handler: h}

	workerMgr := service.NewWorkerManager(downloadSvc, repo)
	workerMgr.AutoParallelism = cfg.AutoParallelismEnabled

	return &Server{cfg: cfg, repo: repo, workerMgr: workerMgr, httpSrv: httpSrv}, nil
}

func (s *Server) Addr() string { return s.httpSrv.Addr }

// RunForeground starts the server and blocks until ctx is done, then performs graceful shutdown.
func (s *Server) RunForeground(ctx context.Context) error {
	ctx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	go scheduler.GetForeground().Run(ctx)
	go scheduler.GetBackground().Run(ctx)
	s.workerMgr.Start(ctx)

	// start server
	go func() {
		log.Printf("fetchmux listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	// Graceful shutdown: pause running downloads before stopping
	log.Println("Graceful shutdown initiated, pausing running downloads...")
	if err := s.pauseRunningDownloads(ctx); err != nil {
		log.Printf("Warning: failed to pause some downloads: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulSecs)
	defer cancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	return nil
}

// pauseRunningDownloads transitions all running downloads to paused state
func (s *Server) pauseRunningDownloads(ctx context.Context) error {
	// Get all running downloads
	downloads, err := s.repo.ListDownloads(ctx, models.ListDownloadsOptions{
		Statuses: []models.DownloadStatus{models.StatusRunning},
	}, 1000, 0) // Get up to 1000 running downloads

	if err != nil {
		return err
	}

	// Pause each running download
	for _, download := range downloads {
		download.Status = models.StatusPaused
		download.UpdatedAt = time.Now().UTC()
		if err := s.repo.UpdateDownload(ctx, &download); err != nil {
			log.Printf("Failed to pause download %s: %v", download.ID, err)
		}
	}

	log.Printf("Paused %d running downloads", len(downloads))
	return nil
}

// Close closes server and repository quickly without graceful handling.
func (s *Server) Close() error {
	_ = s.httpSrv.Close()
	return s.repo.Close()
}

func resolvePort(cfg config.Config) int {
	if cfg.HTTPPort != 0 {
		return cfg.HTTPPort
	}
	return 8089
}
