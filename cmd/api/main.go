package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-rtc/internal/auth"
	"marketplace-rtc/internal/call"
	"marketplace-rtc/internal/config"
	"marketplace-rtc/internal/directory"
	"marketplace-rtc/internal/history"
	"marketplace-rtc/internal/presence"
	"marketplace-rtc/internal/session"
	"marketplace-rtc/internal/signaling"
	"marketplace-rtc/internal/socket"
	"marketplace-rtc/pkg/logger"
	"marketplace-rtc/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	dir := directory.NewPostgresDirectory(db)
	store := session.NewStore(session.NewPostgresRepo(db))
	registry := presence.NewRegistry()
	relay := signaling.NewRelay()

	hub := socket.NewHub(registry, relay, log)

	// Gate TTL outlives any plausible call; the coordinator releases the
	// key explicitly on end/reject, the TTL only covers crashed processes.
	gate := call.NewRedisGate(rdb, cfg.Call.RingTimeout+2*time.Hour)

	coordinator := call.NewCoordinator(store, registry, hub, log, call.Options{
		RingTimeout: cfg.Call.RingTimeout,
		Gate:        gate,
	})
	hub.SetCalls(coordinator)

	historyHandlers := history.Handlers{History: history.NewService(store, dir)}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:      cfg,
		log:      log,
		auth:     authManager,
		dir:      dir,
		hub:      hub,
		history:  historyHandlers,
		registry: registry,
	})

	// No Read/WriteTimeout here: /ws holds connections open indefinitely
	// and the pumps enforce their own deadlines.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
