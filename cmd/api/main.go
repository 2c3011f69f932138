package main

import (
	"context"
	"net/http"
	"os/exec"
	"time"

	"github.com/redis/go-redis/v9"

	"scenegen/internal/adapters/llm/openrouter"
	"scenegen/internal/config"
	"scenegen/internal/httpapi"
	"scenegen/internal/httpapi/handlers"
	"scenegen/internal/pkg/logger"
	"scenegen/internal/pkg/metrics"
	"scenegen/internal/pkg/middleware"
	"scenegen/internal/pkg/shutdown"
	"scenegen/internal/processor"
	"scenegen/internal/ratelimit"
	"scenegen/internal/renderer"
	"scenegen/internal/storage"
)

var version = "0.1.0"

func main() {
	cfg, envFile, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "scenegen-api",
		AddSource:   cfg.Log.AddSource,
	})

	log.Info("starting scenegen API", "version", version, "env_file", envFile)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	m, err := metrics.New("scenegen")
	if err != nil {
		log.LogFatal("failed to initialize metrics", err)
	}
	shutdownMgr.Register("metrics", m.Shutdown)

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	avail := renderer.ProbeCommand(exec.LookPath, cfg.Render.Sandbox, cfg.Render.Binary)
	if avail.OK() {
		log.Info("renderer found", "binary", avail.Binary, "path", avail.Path)
	} else {
		log.Warn("renderer not found, renders will fail", "binary", avail.Binary, "error", avail.String())
	}

	inv := renderer.New(renderer.Config{
		Binary:          cfg.Render.Binary,
		Scene:           cfg.Render.Scene,
		Quality:         cfg.Render.Quality,
		FallbackQuality: cfg.Render.FallbackQuality,
		Timeout:         cfg.Render.Timeout,
		CodeDir:         cfg.Render.CodeDir,
		WorkDir:         cfg.Render.WorkDir,
		Sandbox:         cfg.Render.Sandbox,
		Availability:    avail,
	}, sp, log, renderer.WithMetrics(m))

	if cfg.LLM.APIKey == "" {
		log.Warn("OPENROUTER_API_KEY is not set, generate requests will fail")
	}
	llm := openrouter.New(openrouter.Config{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
		Referer: cfg.LLM.Referer,
		Timeout: cfg.LLM.Timeout,
	}, nil, log, m)

	proc := processor.New(processor.Deps{
		LLM:      llm,
		Renderer: inv,
		Log:      log,
		Metrics:  m,
	})

	routerDeps := httpapi.Deps{
		Handlers: handlers.Deps{
			Generator: proc,
			Store:     sp,
			Renderer:  inv,
			Log:       log,
			Version:   version,
		},
		Log:                log,
		Metrics:            m,
		CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})

		// The limiter fails open, so an unreachable Redis is not fatal.
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, rate limiting will fail open", "addr", cfg.Redis.Addr, "error", err.Error())
		} else {
			log.Info("Redis connected", "addr", cfg.Redis.Addr)
		}

		limiter := ratelimit.NewRedisLimiter(rdb, cfg.Redis.RateLimitPerMinute, time.Minute)
		routerDeps.Limiter = middleware.Limiter(limiter)
		routerDeps.Handlers.Redis = limiter
	}

	janitor := processor.NewJanitor(inv.CodeDir(), sp, cfg.Retention.MaxAge, cfg.Retention.Interval, log)
	if janitor.Enabled() {
		janitorCtx, stopJanitor := context.WithCancel(ctx)
		go janitor.Run(janitorCtx)
		shutdownMgr.RegisterSimple("janitor", stopJanitor)
	}

	server := &http.Server{
		Addr:        "0.0.0.0:" + cfg.HTTP.Port,
		Handler:     httpapi.NewRouter(routerDeps),
		ReadTimeout: 30 * time.Second,
		// A generate request spans two model calls and up to four renders.
		WriteTimeout: 2*cfg.LLM.Timeout + 4*cfg.Render.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Registered last so it stops first.
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr, "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait(ctx)
}
