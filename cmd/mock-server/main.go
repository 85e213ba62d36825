package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem mock exam server")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Load Fixture ──────────────────────────────────────────────────
	var (
		fx  *service.Fixture
		err error
	)
	if cfg.FixturePath != "" {
		fx, err = service.LoadFixture(cfg.FixturePath)
	} else {
		fx, err = service.DefaultFixture()
	}
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.FixturePath).Msg("Failed to load fixture")
	}
	for _, e := range fx.Exams {
		log.Info().Str("exam_id", e.ID).Str("title", e.Title).Int("questions", len(e.Questions)).Msg("Exam loaded")
	}

	// ─── Storage: Redis when configured, memory otherwise ──────────────
	rdb, err := database.OptionalRedis(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	var (
		answers repository.AnswerRepository
		bus     service.EventBus
	)
	if rdb != nil {
		defer rdb.Close()
		answers = repository.NewRedisAnswerRepository(rdb)
		bus = service.NewRedisBus(rdb)
	} else {
		log.Warn().Msg("REDIS_URL not set, answers and monitor events stay in memory")
		answers = repository.NewMemoryAnswerRepository()
		bus = service.NewMemoryBus(log)
	}

	// ─── Wire Application ─────────────────────────────────────────────
	app, err := router.NewApp(cfg, fx, answers, bus, clockwork.NewRealClock(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}

	stopCleanup := make(chan struct{})
	if app.Limiter != nil {
		go app.Limiter.RunCleanup(stopCleanup)
	}

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: app.Engine,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	close(stopCleanup)

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
