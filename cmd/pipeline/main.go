package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/config"
	"github.com/lon-trans/bus-density/internal/db"
	"github.com/lon-trans/bus-density/internal/enrich"
	"github.com/lon-trans/bus-density/internal/logging"
	"github.com/lon-trans/bus-density/internal/pipeline"
	"github.com/lon-trans/bus-density/internal/realtime/gtfsrt"
	"github.com/lon-trans/bus-density/internal/realtime/tfl"
	cyclesignal "github.com/lon-trans/bus-density/internal/signal"
	"github.com/lon-trans/bus-density/internal/snapshot"
	"github.com/lon-trans/bus-density/internal/warehouse"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logger config is not known yet
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("starting bus density pipeline",
		zap.String("feed", cfg.Feed.Kind),
		zap.String("store", cfg.Store.Kind),
		zap.String("signal", cfg.Signal.Kind),
		zap.Bool("once", *once),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The SQLite file always holds the cycle log and snapshot catalogue,
	// and the stop tables too unless a warehouse is configured.
	database, err := db.Connect(logger, cfg.Store.SQLitePath)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure database schema", zap.Error(err))
	}

	var (
		clusters enrich.ClusterTable        = database
		fallback enrich.FallbackCoordinates = database
	)
	if cfg.Store.Kind == "postgres" {
		store, err := warehouse.NewStore(ctx, logger, cfg.Store.PostgresURL, cfg.Store.ClusterTable, cfg.Store.StopsTable)
		if err != nil {
			logger.Fatal("failed to connect to warehouse", zap.Error(err))
		}
		defer store.Close()
		clusters, fallback = store, store
	}

	publisher := newPublisher(logger, cfg)
	defer publisher.Close()

	runner := pipeline.NewRunner(logger, pipeline.Deps{
		Feed:      newFeed(logger, cfg),
		Clusters:  clusters,
		Fallback:  fallback,
		Engine:    enrich.NewEngine(logger, cfg.Location()),
		Sink:      snapshot.NewFileSink(logger, cfg.Snapshot.Dir, cfg.Snapshot.StagingName, cfg.Snapshot.LatestName, cfg.Snapshot.PromoteAttempts, cfg.Snapshot.PromoteBackoff),
		Log:       database,
		Catalogue: database,
		Signal:    publisher,
	}, pipeline.Options{
		JobName:   cfg.Signal.JobName,
		Retention: cfg.Retention,
		Location:  cfg.Location(),
	})

	if *once {
		if _, err := runner.RunCycle(ctx); err != nil {
			logger.Sync()
			os.Exit(1)
		}
		return
	}

	scheduler := cron.New(
		cron.WithLogger(cronLogger{logger.Sugar().With("component", "cron")}),
		cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}), cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
	)
	_, err = scheduler.AddFunc(cfg.Schedule.Cron, func() {
		runner.RunCycle(ctx)

		// hold the slot so SkipIfStillRunning drops triggers during the cooldown
		select {
		case <-time.After(cfg.Schedule.Cooldown):
		case <-ctx.Done():
		}
	})
	if err != nil {
		logger.Fatal("invalid schedule", zap.String("cron", cfg.Schedule.Cron), zap.Error(err))
	}

	// Initial cycle immediately
	runner.RunCycle(ctx)

	scheduler.Start()
	logger.Info("pipeline scheduled",
		zap.String("cron", cfg.Schedule.Cron),
		zap.Duration("cooldown", cfg.Schedule.Cooldown),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// wait for a running cycle to record its outcome
	<-scheduler.Stop().Done()
	logger.Info("goodbye")
}

func newFeed(logger *zap.Logger, cfg *config.Config) enrich.ArrivalFeed {
	if cfg.Feed.Kind == "gtfsrt" {
		return gtfsrt.NewClient(logger, cfg.Feed.GTFSRT.URL, cfg.Feed.Timeout)
	}
	return tfl.NewClient(logger, cfg.Feed.TfL.URL, cfg.Feed.TfL.AppKey, cfg.Feed.Timeout)
}

func newPublisher(logger *zap.Logger, cfg *config.Config) cyclesignal.Publisher {
	if cfg.Signal.Kind == "kafka" {
		return cyclesignal.NewKafkaPublisher(logger, cfg.Signal.Brokers, cfg.Signal.Topic)
	}
	return cyclesignal.NewLogPublisher(logger)
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
