package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/attachment"
	"github.com/debemdeboas/postdeck/internal/auth"
	"github.com/debemdeboas/postdeck/internal/config"
	"github.com/debemdeboas/postdeck/internal/db"
	"github.com/debemdeboas/postdeck/internal/editor"
	"github.com/debemdeboas/postdeck/internal/logger"
	"github.com/debemdeboas/postdeck/internal/metrics"
	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/notify"
	"github.com/debemdeboas/postdeck/internal/publish"
	"github.com/debemdeboas/postdeck/internal/publisher"
	"github.com/debemdeboas/postdeck/internal/render"
	"github.com/debemdeboas/postdeck/internal/repository"
	"github.com/debemdeboas/postdeck/internal/routes"
	"github.com/debemdeboas/postdeck/internal/scheduler"
	"github.com/debemdeboas/postdeck/internal/sse"
	"github.com/debemdeboas/postdeck/internal/toolbar"
	"github.com/debemdeboas/postdeck/internal/util/compression"
)

const configPath = "config.yaml"

var mainLogger zerolog.Logger

// app is the wired server. close releases the storage it opened.
type app struct {
	handler   http.Handler
	sessions  *editor.Registry
	scheduler *scheduler.Scheduler
	close     func() error
}

func main() {
	config.LoadEnv()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, config.ErrLoadConfigFmt+"\n", err)
		os.Exit(1)
	}

	setLoggers(logger.New(cfg.Logging.Level, cfg.Logging.Format))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		mainLogger.Fatal().Err(err).Msg("Error setting up server")
	}
	defer func() {
		if err := a.close(); err != nil {
			mainLogger.Error().Err(err).Msg("Error closing storage")
		}
	}()

	if cfg.Scheduler.Enabled {
		go a.scheduler.Run(ctx)
	}
	go sweepSessions(ctx, a.sessions, cfg.Editor.IdleTimeout)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			mainLogger.Error().Err(err).Msg("Error shutting down server")
		}
	}()

	mainLogger.Info().Str("addr", srv.Addr).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		mainLogger.Fatal().Err(err).Msg("Server failed")
	}
	mainLogger.Info().Msg("Server stopped")
}

func setLoggers(l zerolog.Logger) {
	mainLogger = l
	config.SetLogger(l.With().Str("component", "config").Logger())
	db.SetLogger(l.With().Str("component", "db").Logger())
	repository.SetLogger(l.With().Str("component", "repository").Logger())
	publisher.SetLogger(l.With().Str("component", "publisher").Logger())
	publish.SetLogger(l.With().Str("component", "publish").Logger())
	auth.SetLogger(l.With().Str("component", "auth").Logger())
	sse.SetLogger(l.With().Str("component", "sse").Logger())
	editor.SetLogger(l.With().Str("component", "editor").Logger())
	toolbar.SetLogger(l.With().Str("component", "toolbar").Logger())
	render.SetLogger(l.With().Str("component", "render").Logger())
	scheduler.SetLogger(l.With().Str("component", "scheduler").Logger())
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	repo, sqlite, err := newPostRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closeStore := func() error {
		if sqlite == nil {
			return nil
		}
		return sqlite.Close()
	}

	media, err := newMediaRepository(ctx, cfg)
	if err != nil {
		return nil, errors.Join(fmt.Errorf(config.ErrCreateMediaStoreFmt, err), closeStore())
	}

	coord := publish.NewCoordinator(repo, newPublisher(cfg, media), publish.Options{
		RetryInitial:    cfg.Storage.Retry.Initial,
		RetryMaxElapsed: cfg.Storage.Retry.MaxElapsed,
	})

	clients := sse.NewSSEClients()
	repo.SetChangeNotifier(clients.PostChanged)

	// Every outcome goes to the post's editors and to the log.
	notifierFor := func(key model.PostKey) notify.Notifier {
		return notify.Multi{
			clients.Notifier(key),
			notify.Log{Logger: mainLogger.With().Str("post", key.String()).Logger()},
		}
	}

	guard := attachment.NewGuard(attachment.Policy{
		MinPollDays:   cfg.Poll.MinDays,
		MaxPollDays:   cfg.Poll.MaxDays,
		MaxMediaFiles: cfg.Media.MaxFiles,
	})
	sessions := editor.NewRegistry(repo, coord, toolbar.Options{
		HistoryLimit: cfg.Editor.HistoryLimit,
		Guard:        guard,
	}, editor.NotifierFunc(notifierFor))

	provider := newAuthProvider(cfg)
	handler := editor.NewHandler(repo, sessions, media, provider, int64(cfg.Server.MaxUploadBytes))

	api := http.NewServeMux()
	handler.Register(api)
	api.Handle("GET "+routes.APIPostEvents, clients.Handler(func(ctx context.Context) (model.AgencyID, bool) {
		user, ok := provider.CurrentUserId(ctx)
		return model.AgencyID(user), ok
	}))

	mux := http.NewServeMux()
	mux.Handle("/api/", auth.RequireUser(provider)(api))
	mux.Handle(routes.MetricsPath, metrics.Handler())
	mux.HandleFunc(routes.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(config.HCType, "text/plain")
		if sqlite != nil {
			if err := sqlite.Ping(r.Context()); err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("Health check failed")
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	sched := scheduler.New(repo, coord, scheduler.NotifierFunc(notifierFor), cfg.Scheduler.Interval)

	return &app{
		handler:   withRequestLogger(mainLogger, noCache(secureHeaders(provider.WithHeaderAuthorization()(mux)))),
		sessions:  sessions,
		scheduler: sched,
		close:     closeStore,
	}, nil
}

// newPostRepository opens the configured post store. The returned database is nil for the
// memory driver.
func newPostRepository(ctx context.Context, cfg *config.Config) (repository.PostRepository, *db.SQLite, error) {
	if cfg.Storage.Driver == "memory" {
		mainLogger.Warn().Msg("Using in-memory storage, posts are lost on restart")
		return repository.NewMemoryPostRepository(), nil, nil
	}

	compressor, err := compression.ByName(cfg.Storage.Compression)
	if err != nil {
		return nil, nil, err
	}

	sqlite := db.NewSQLite(cfg.Storage.Path)
	if err := sqlite.InitDb(); err != nil {
		return nil, nil, fmt.Errorf(config.ErrInitializeDatabaseFmt, err)
	}

	repo := repository.NewDBPostRepository(sqlite, compressor)
	if err := repo.Init(ctx); err != nil {
		return nil, nil, errors.Join(fmt.Errorf(config.ErrInitializeDatabaseFmt, err), sqlite.Close())
	}
	mainLogger.Info().Str("path", cfg.Storage.Path).Str("compression", cfg.Storage.Compression).Msg("Opened post store")
	return repo, sqlite, nil
}

func newMediaRepository(ctx context.Context, cfg *config.Config) (repository.MediaRepository, error) {
	if cfg.Media.Driver == "s3" {
		s3 := cfg.Media.S3
		return repository.NewS3MediaRepository(ctx,
			cfg.Secrets.S3AccessKeyId, cfg.Secrets.S3SecretKey,
			s3.Endpoint, s3.Region, s3.Bucket, s3.PublicURL)
	}
	return repository.NewFSMediaRepository(cfg.Media.Dir)
}

func newPublisher(cfg *config.Config, media repository.MediaRepository) publisher.Publisher {
	if cfg.LinkedIn.DryRun || cfg.Secrets.LinkedInToken == "" {
		mainLogger.Warn().Msg("Publishing in dry run mode, nothing reaches LinkedIn")
		return publisher.DryRun{}
	}

	li := publisher.NewLinkedIn(cfg.LinkedIn.BaseURL, cfg.Secrets.LinkedInToken, cfg.LinkedIn.Version, media)
	if cfg.LinkedIn.Timeout > 0 {
		li.Client.Timeout = cfg.LinkedIn.Timeout
	}
	return li
}

func newAuthProvider(cfg *config.Config) auth.AuthProvider {
	if cfg.Auth.Provider == "clerk" {
		return auth.NewClerkAuthProvider(cfg.Secrets.ClerkKey)
	}
	return auth.NewHeaderAuthProvider(cfg.Auth.Header, model.UserID(cfg.Auth.DefaultUser))
}

// sweepSessions closes editing sessions idle for longer than idle.
func sweepSessions(ctx context.Context, sessions *editor.Registry, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(idle); n > 0 {
				mainLogger.Debug().Int("closed", n).Msg("Closed idle editing sessions")
			}
		}
	}
}

// withRequestLogger gives every request a logger that handlers reach through zerolog.Ctx.
func withRequestLogger(l zerolog.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl := l.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", uuid.NewString()).
			Logger()
		h.ServeHTTP(w, r.WithContext(rl.WithContext(r.Context())))
	})
}

func noCache(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(config.HCacheControl, "no-store")
		h.ServeHTTP(w, r)
	})
}

func secureHeaders(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "deny")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")

		h.ServeHTTP(w, r)
	})
}
