package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"ragstream/app/agent"
	"ragstream/app/api"
	"ragstream/app/config"
	"ragstream/app/middleware"
	"ragstream/jobs"
	"ragstream/loader"
	"ragstream/model"
	"ragstream/retrieval"
	"ragstream/store"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	app      *fiber.App
	registry *jobs.Registry
	watcher  *loader.Watcher

	// ctx bounds open event streams; cancel ends them on shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg *config.Config) (*Server, error) {
	logger := slog.Default()

	llm, err := model.New(model.Config{
		Provider: cfg.LLM.Provider,
		URL:      cfg.LLM.URL,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		Timeout:  cfg.LLM.Timeout,

		RateLimit: cfg.LLM.RateLimit,
		RateBurst: cfg.LLM.RateBurst,
	})
	if err != nil {
		return nil, err
	}

	registry := jobs.New(jobs.Config{
		Capacity:      cfg.Jobs.Capacity,
		GracePeriod:   cfg.Jobs.GracePeriod,
		SweepInterval: cfg.Jobs.SweepInterval,
		MaxAge:        cfg.Jobs.MaxAge,
	}, jobs.WithLogger(logger))

	docs := store.NewMemoryStore()
	searcher := retrieval.NewKeywordSearcher(docs)
	generator := agent.New(agent.Config{
		TopK:             cfg.Retrieval.TopK,
		FallbackRecent:   cfg.Retrieval.FallbackRecent,
		Temperature:      cfg.LLM.Temperature,
		MaxTokens:        cfg.LLM.MaxTokens,
		MaxContextTokens: cfg.Retrieval.MaxContextTokens,
	}, searcher, llm, registry, agent.WithRecent(searcher), agent.WithLogger(logger))

	ld := loader.New(loader.Config{
		StorageDir:   cfg.Loader.StorageDir,
		ChunkSize:    cfg.Loader.ChunkSize,
		ChunkOverlap: cfg.Loader.ChunkOverlap,
	}, docs, registry, loader.WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.Loader.InboxDir != "" {
		s.watcher = loader.NewWatcher(loader.WatcherConfig{
			Dir:            cfg.Loader.InboxDir,
			MonitoringTime: cfg.Loader.MonitoringTime,
		}, registry, ld)
	}

	s.app = fiber.New(fiber.Config{
		ErrorHandler:          api.ErrorHandler,
		BodyLimit:             cfg.Server.MaxUploadBytes + 1<<20,
		DisableStartupMessage: true,
	})
	s.routes(
		api.NewCheckHandler(),
		api.NewConfigHandler(cfg),
		api.NewRequestHandler(registry, generator),
		api.NewStreamHandler(ctx, registry, cfg.Server.StreamKeepAlive),
		api.NewFileHandler(registry, ld, cfg.Server.MaxUploadBytes),
	)
	return s, nil
}

func (s *Server) routes(check *api.CheckHandler, settings *api.ConfigHandler, requests *api.RequestHandler, streams *api.StreamHandler, files *api.FileHandler) {
	s.app.Use(fiberrecover.New())
	s.app.Use(middleware.IgnoreProbes())
	s.app.Use(fiberlogger.New())
	s.app.Use(cors.New())

	s.app.Get("/health", check.HandleHealthy)
	s.app.Get("/check/healthy", check.HandleHealthy)
	s.app.Get("/config", settings.HandleGetConfig)

	s.app.Post("/generate", requests.HandleGenerate)
	s.app.Get("/stream/:id", streams.HandleStream(jobs.KindGenerate))
	s.app.Get("/jobs/:id", requests.HandleStatus)

	s.app.Post("/upload_pdf", files.HandleUpload)
	s.app.Get("/upload_progress/:id", streams.HandleStream(jobs.KindUpload))
	s.app.Get("/pdf/:id", files.HandleGetPDF)
	s.app.Get("/pdf_search/:id", files.HandlePDFSearch)
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves HTTP and runs the job reaper (and the inbox watcher when one is
// configured) until ctx is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.registry.Run(gctx)
	})
	if s.watcher != nil {
		g.Go(func() error {
			return s.watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		s.logger.Info("server started", "addr", ln.Addr().String())
		if err := s.app.Listener(ln); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Stop()
		err := s.app.ShutdownWithTimeout(shutdownTimeout)
		// shutdown can race ahead of the listener being registered
		ln.Close()
		return err
	})

	return g.Wait()
}

// Stop ends open event streams. Jobs keep running until the process exits.
func (s *Server) Stop() {
	s.cancel()
	s.logger.Info("server stopped")
}
