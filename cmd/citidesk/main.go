package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/citidesk/internal/api"
	"github.com/citidesk/internal/assignment"
	"github.com/citidesk/internal/cache"
	"github.com/citidesk/internal/config"
	"github.com/citidesk/internal/email"
	"github.com/citidesk/internal/health"
	"github.com/citidesk/internal/kafka"
	"github.com/citidesk/internal/logging"
	"github.com/citidesk/internal/monitoring"
	"github.com/citidesk/internal/notify"
	"github.com/citidesk/internal/queue"
	"github.com/citidesk/internal/store"
	"github.com/citidesk/internal/telemetry"
	"github.com/citidesk/internal/user"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		configFile  = pflag.StringP("config", "c", "", "Configuration file path (default $CONFIG_PATH or config/config.yaml)")
		showVersion = pflag.BoolP("version", "v", false, "Show version information")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "citidesk - ticket admission, prioritization and agent assignment\n\nUsage:\n  citidesk [flags]\n\nFlags:\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *showVersion {
		fmt.Printf("citidesk version %s\nCommit: %s\nBuilt: %s\n", version, commit, date)
		return
	}

	if err := run(*configFile); err != nil {
		slog.Error("citidesk stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("starting citidesk", "version", version, "commit", commit, "built", date)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(cfg.Tracing, version)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	checker := health.NewHealthChecker()

	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	checker.Register(health.Database(st.Ping))

	var infoCache queue.InfoCache
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		rc := cache.NewRedisCache(client, cfg.Redis.Prefix, cfg.Redis.QueueInfoTTL)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, queue info served from the store", "error", err)
		}
		infoCache = cache.NewQueueInfo(rc, cfg.Redis.QueueInfoTTL)
		checker.Register(health.Redis(rc.Ping))
	}

	hub := api.NewHub(logger)
	slo := monitoring.NewSLOTracker(0)
	for _, def := range monitoring.DefaultSLOs {
		slo.AddSLO(def)
	}
	sinks := []notify.Sink{notify.NewLogSink(logger), hub, slo}

	if cfg.Kafka.Enabled {
		topics := kafka.NewTopicManager(cfg.Kafka.Brokers, logger)
		if cfg.Kafka.CreateTopics {
			if err := topics.CreateTopics(cfg.Kafka.Topic); err != nil {
				logger.Warn("failed to create kafka topics", "error", err)
			}
		}
		producer, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()
		sinks = append(sinks, notify.NewKafkaSink(producer, cfg.Kafka.Topic))
		checker.Register(health.Kafka(topics.Ping))
	}

	if cfg.Email.Enabled {
		mailer, err := email.NewService(cfg.Email)
		if err != nil {
			return err
		}
		sinks = append(sinks, notify.NewEmailSink(mailer, user.NewDirectory(st, 5*time.Minute)))
	}

	dispatcher := notify.NewDispatcher(cfg.Notify, logger, sinks...)
	dispatcher.Start()

	calc := queue.NewCalculator(st, cfg.Queue.PerTicketMinutes, infoCache, logger)
	engine := assignment.New(st, calc, dispatcher, assignment.Options{UniformOrdering: cfg.Queue.UniformOrdering}, logger)

	// Positions may be stale after an unclean stop.
	if _, err := calc.Recompute(ctx); err != nil {
		logger.Warn("initial queue recompute failed", "error", err)
	}

	gateway := api.NewGateway(cfg.API, api.Dependencies{
		Engine:  engine,
		Queue:   calc,
		Reader:  st,
		Catalog: cache.NewCatalog(st, 5*time.Minute),
		Health:  checker,
		Hub:     hub,
		SLO:     slo,
		Logger:  logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(gateway.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping services")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := gateway.Stop(shutdownCtx); err != nil {
			logger.Error("error during gateway shutdown", "error", err)
		}
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			logger.Error("error draining notifications", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("citidesk stopped", "notifications", dispatcher.Stats())
	return err
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	}

	db, err := store.Connect(cfg)
	if err != nil {
		return nil, err
	}
	pg := store.NewPostgres(db, logger)
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return pg, nil
}
