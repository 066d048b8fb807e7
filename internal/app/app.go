package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	apphttp "github.com/yungbote/aitranscriber-backend/internal/http"
	httpH "github.com/yungbote/aitranscriber-backend/internal/http/handlers"
	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/platform/envutil"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/services/summary"
	"github.com/yungbote/aitranscriber-backend/internal/services/transcription"
)

type Services struct {
	Transcription *transcription.Service
	Summary       *summary.Service
}

type Handlers struct {
	Health        *httpH.HealthHandler
	Transcription *httpH.TranscriptionHandler
	Summary       *httpH.SummaryHandler
}

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Server   *apphttp.Server
	Services Services
	Metrics  *observability.Metrics

	wiring       *wiring
	shutdownOTel func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName:           cfg.ServiceName,
		Environment:           envutil.String("APP_ENV", ""),
		Version:               envutil.String("APP_VERSION", ""),
		TranscriptionProvider: cfg.TranscriptionProvider,
		SummaryProvider:       cfg.SummaryProvider,
		BlobStore:             cfg.BlobStoreMode,
	})
	metrics := observability.Init(log)

	w := newWiring(cfg)
	services, err := wireServices(ctx, log, w)
	if err != nil {
		closeAll(log, w)
		log.Sync()
		return nil, err
	}
	handlers := wireHandlers(log, services, cfg)

	routerCfg := apphttp.RouterConfig{
		Log:                  log,
		Metrics:              metrics,
		AllowedOrigins:       cfg.AllowedOrigins,
		ServiceName:          cfg.ServiceName,
		MaxMultipartMemory:   cfg.MaxMultipartMemory,
		HealthHandler:        handlers.Health,
		TranscriptionHandler: handlers.Transcription,
		SummaryHandler:       handlers.Summary,
	}
	if metrics != nil && cfg.MetricsAddr == "" {
		routerCfg.MetricsHandler = metrics.Handler()
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		Server:       apphttp.NewServer(routerCfg),
		Services:     services,
		Metrics:      metrics,
		wiring:       w,
		shutdownOTel: shutdownOTel,
	}, nil
}

func wireServices(ctx context.Context, log *logger.Logger, w *wiring) (Services, error) {
	log.Info("Wiring services...")
	blobs, err := resolveBlobStore(ctx, log, w)
	if err != nil {
		return Services{}, err
	}
	if blobs != nil {
		w.onClose(blobs)
	}
	provider, err := resolveTranscriptionProvider(ctx, log, w)
	if err != nil {
		return Services{}, fmt.Errorf("init transcription provider: %w", err)
	}
	generator, err := resolveSummaryGenerator(ctx, log, w)
	if err != nil {
		return Services{}, fmt.Errorf("init summary provider: %w", err)
	}

	// A nil interface keeps the service from treating a missing store as present.
	var store transcription.BlobStore
	if blobs != nil {
		store = blobs
	}
	ts, err := transcription.NewService(log, provider, store, transcription.Config{MaxAudioBytes: w.cfg.MaxAudioBytes})
	if err != nil {
		return Services{}, err
	}
	ss, err := summary.NewService(log, generator)
	if err != nil {
		return Services{}, err
	}
	return Services{Transcription: ts, Summary: ss}, nil
}

func wireHandlers(log *logger.Logger, services Services, cfg Config) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(httpH.HealthComponents{
			TranscriptionProvider: cfg.TranscriptionProvider,
			SummaryProvider:       cfg.SummaryProvider,
			BlobStore:             cfg.BlobStoreMode,
		}),
		Transcription: httpH.NewTranscriptionHandler(log, services.Transcription),
		Summary:       httpH.NewSummaryHandler(log, services.Summary),
	}
}

// Run serves HTTP (and the dedicated metrics listener, if configured) until
// ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)
	if a.Metrics != nil && a.Cfg.MetricsAddr != "" {
		a.Metrics.StartServer(gctx, a.Log, a.Cfg.MetricsAddr)
	}
	g.Go(func() error {
		addr := ":" + a.Cfg.Port
		a.Log.Info("Server listening", "addr", addr)
		return a.Server.Run(gctx, addr, a.Cfg.ShutdownTimeout)
	})
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	closeAll(a.Log, a.wiring)
	if a.shutdownOTel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
		if err := a.shutdownOTel(ctx); err != nil {
			a.Log.Warn("OpenTelemetry shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func closeAll(log *logger.Logger, w *wiring) {
	if w == nil {
		return
	}
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil {
			log.Warn("Close failed", "error", err)
		}
	}
	w.closers = nil
}
