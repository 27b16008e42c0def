// homegraph-agent is the offline-capable replica: local sqlite graph,
// change tracking, and the periodic sync loop against the server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/inbetweenies/homegraph/internal/config"
	"github.com/inbetweenies/homegraph/internal/replica"
	"github.com/inbetweenies/homegraph/internal/store/sqlite"
)

func setupLogging(level, file string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if file != "" {
		log.Logger = zerolog.New(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}).With().Timestamp().Str("service", "homegraph-agent").Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Str("service", "homegraph-agent").Logger()
}

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	once := flag.Bool("once", false, "run a single sync round and exit")
	flag.Parse()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	setupLogging(cfg.LogLevel, cfg.LogFile)

	clientID := cfg.ClientID
	if clientID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			log.Fatal().Err(err).Msg("clientId not configured and hostname unavailable")
		}
		clientID = host
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open local database")
	}
	defer st.Close()

	rep, err := replica.NewReplica(ctx, st, clientID, cfg.UserID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize replica")
	}

	transport := replica.NewHTTPTransport(cfg.ServerURL, cfg.Token)
	engine := replica.NewEngine(rep, transport, cfg.EffectiveLockPath())

	// Mirror sync lifecycle events into the log; the pump drains until the
	// subscription is cancelled
	events, cancel := rep.Subscribe()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for ev := range events {
			logEvent(ev)
		}
		return nil
	})

	if *once {
		res, serr := engine.SyncNow(ctx)
		cancel()
		if err := g.Wait(); err != nil {
			log.Fatal().Err(err).Msg("event pump failed")
		}
		if serr != nil {
			log.Fatal().Err(serr).Msg("sync failed")
		}
		log.Info().
			Int("pushed", res.Pushed).
			Int("pulled", res.Pulled).
			Int("conflicts", res.Conflicts).
			Dur("duration", res.Duration).
			Msg("sync complete")
		return
	}

	log.Info().
		Str("server", cfg.ServerURL).
		Str("client_id", clientID).
		Dur("interval", cfg.SyncInterval.Duration()).
		Msg("starting sync loop")
	g.Go(func() error {
		defer cancel()
		return engine.Run(gctx, cfg.SyncInterval.Duration())
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("sync loop failed")
	}
	log.Info().Msg("agent stopped")
}

func logEvent(ev replica.Event) {
	switch ev.Type {
	case replica.EventSyncFailed:
		log.Warn().Str("error", ev.Error).Msg("sync round failed")
	case replica.EventConflictDetected:
		log.Info().Str("entity_id", ev.EntityID).Msg("conflict resolved against local change")
	case replica.EventSyncCompleted:
		if ev.Stats != nil {
			log.Debug().
				Int("entities", ev.Stats.EntitiesSynced).
				Int("relationships", ev.Stats.RelationshipsSynced).
				Msg("sync round completed")
		}
	}
}
