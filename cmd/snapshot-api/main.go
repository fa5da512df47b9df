package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/config"
	"github.com/lon-trans/bus-density/internal/db"
	"github.com/lon-trans/bus-density/internal/handlers"
	"github.com/lon-trans/bus-density/internal/logging"
	"github.com/lon-trans/bus-density/internal/snapshot"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	database, err := db.Connect(logger, cfg.Store.SQLitePath)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("failed to ensure database schema", zap.Error(err))
	}

	latestPath := filepath.Join(cfg.Snapshot.Dir, cfg.Snapshot.LatestName)
	reader := snapshot.NewReader(latestPath, cfg.Location())

	router := handlers.NewRouter(
		cfg.API.AllowedOrigins,
		handlers.NewSnapshotHandler(logger.With(zap.String("component", "api")), reader),
		handlers.NewStatusHandler(database),
	)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("API server starting",
			zap.String("addr", srv.Addr),
			zap.String("snapshot", latestPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
