package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/meetplay/lobby/internal/config"
	"github.com/meetplay/lobby/internal/gateway"
	"github.com/meetplay/lobby/internal/reaper"
	"github.com/meetplay/lobby/internal/session"
	"github.com/meetplay/lobby/internal/session/postgres"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg := config.NewServerConfigFromEnv()

	lobbyCfg, err := config.LoadLobbyConfig(cfg.LobbyConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load lobby config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", cfg.DB.Database).
		Str("port", cfg.Port).
		Int("games", len(lobbyCfg.Games)).
		Msg("starting lobby server")

	clock := clockwork.NewRealClock()

	connections := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	repo := postgres.NewRepository(pool)
	app := session.NewApp(repo, connections, session.Config{
		Games:             lobbyCfg.Games,
		DefaultMinPlayers: lobbyCfg.DefaultMinPlayers,
	}, clock)

	service := gateway.NewService(app, connections)

	watchdog := reaper.New(app, clock, reaper.Config{
		Threshold:    lobbyCfg.ReapThreshold,
		ScanInterval: lobbyCfg.ReapScanInterval,
	})

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      c.Handler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go connections.Start(ctx)

	go func() {
		if err := watchdog.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("reaper stopped")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	time.Sleep(1 * time.Second)

	log.Info().Msg("lobby server shutdown complete")
}
