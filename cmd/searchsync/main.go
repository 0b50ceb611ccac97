package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/config"
	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/dbconfig"
	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/document"
	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/events"
	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/indexer"
	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/outbox"
	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/search"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	dbCfg := dbconfig.NewConfigFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create database pool")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().
		Str("host", dbCfg.Host).
		Str("database", dbCfg.Database).
		Msg("connected to database")

	// Separate database/sql handle for the health checker.
	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open health check connection")
	}
	defer db.Close()

	engine, err := search.NewElasticsearch(ctx, search.ElasticsearchConfig{
		URL:      cfg.Elasticsearch.URL,
		Index:    cfg.Elasticsearch.Index,
		Pipeline: cfg.Elasticsearch.Pipeline,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to search engine")
	}
	defer engine.Close()

	synchronizer := indexer.NewSynchronizer(document.NewRepository(pool), engine)
	dispatcher := events.NewDispatcher(synchronizer)

	newStream := func(ctx context.Context) (outbox.EventStream, error) {
		return outbox.NewSubscriber(ctx, dbCfg.ReplicationDSN(), cfg.Replication)
	}

	supervisor := outbox.NewSupervisor(newStream, dispatcher, outbox.SupervisorConfig{
		ReconnectDelay: cfg.Replication.ReconnectDelay,
	})
	if err := supervisor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start stream supervisor")
	}

	healthChecker := outbox.NewHealthChecker(supervisor, db, engine)
	healthServer := &http.Server{
		Addr:    cfg.Health.Addr,
		Handler: healthMux(healthChecker),
	}
	go func() {
		log.Info().Str("addr", cfg.Health.Addr).Msg("health endpoint listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health endpoint failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("health endpoint shutdown failed")
	}
	if err := supervisor.Stop(); err != nil {
		log.Warn().Err(err).Msg("supervisor stop failed")
	}
}

func healthMux(checker *outbox.HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", checker)
	return mux
}
