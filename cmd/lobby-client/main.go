// Demo participant client: resolves an identity, joins the lobby for one
// game, votes ready and prints every snapshot until the game starts or the
// process is interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/meetplay/lobby/internal/client"
	"github.com/meetplay/lobby/internal/models"
	"github.com/meetplay/lobby/internal/notify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "lobby server base URL")
	meetingID := flag.String("meeting", "", "meeting id (uuid)")
	gameID := flag.String("game", "trivia", "game id")
	minPlayers := flag.Int("min-players", 2, "game minimum player count")
	userID := flag.String("user", "", "external user id")
	name := flag.String("name", "", "display name")
	ready := flag.Bool("ready", true, "vote ready after joining")
	natsURL := flag.String("nats", "", "NATS URL for chat events (optional)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	meeting, err := uuid.Parse(*meetingID)
	if err != nil {
		log.Fatal().Err(err).Msg("a valid -meeting uuid is required")
	}
	if *userID == "" {
		log.Fatal().Msg("-user is required")
	}

	store := client.NewRESTStore(*serverURL)
	transport := client.NewWebsocketTransport(httpToWS(*serverURL))

	var notifier client.Notifier
	if *natsURL != "" {
		publisher, err := notify.Connect(*natsURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer publisher.Close()
		notifier = publisher
	}

	started := make(chan struct{})
	controller := client.NewController(store, transport, notifier, clockwork.NewRealClock(), client.Config{
		MeetingID:      meeting,
		Game:           models.Game{ID: *gameID, MinPlayers: *minPlayers},
		ExternalUserID: *userID,
		DisplayName:    *name,
		OnUpdate: func(state client.State) {
			log.Info().
				Str("status", string(state.Session.Status)).
				Int("participants", state.ParticipantCount).
				Int("ready", state.ReadyCount).
				Str("mode", string(state.Mode)).
				Msg("lobby update")
		},
		OnStart: func(state client.State) {
			log.Info().Int("players", state.ParticipantCount).Msg("game is starting")
			close(started)
		},
	})

	ctx := context.Background()
	if err := controller.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("controller start failed")
	}

	if err := controller.Join(ctx); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}
	if *ready {
		if err := controller.VoteReady(ctx, true); err != nil {
			log.Error().Err(err).Msg("ready vote failed")
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-started:
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("leaving lobby")
	}

	if err := controller.Close(); err != nil {
		log.Error().Err(err).Msg("controller close failed")
	}
}

func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
