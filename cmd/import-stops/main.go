package main

import (
	"context"
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/config"
	"github.com/lon-trans/bus-density/internal/db"
	"github.com/lon-trans/bus-density/internal/importer"
	"github.com/lon-trans/bus-density/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	dbPath := flag.String("db", "", "path to SQLite database (overrides store.sqlite_path)")
	stopsCSV := flag.String("stops", "", "stop coordinates CSV (naptanId,commonName,latitude,longitude)")
	clustersCSV := flag.String("clusters", "", "cluster membership CSV (naptanId,commonName,latitude,longitude,clusterAgglomerative)")
	gtfsZip := flag.String("gtfs", "", "static GTFS zip whose stops.txt feeds the stop coordinates")
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

	if *stopsCSV == "" && *clustersCSV == "" && *gtfsZip == "" {
		logger.Fatal("nothing to import: pass -stops, -clusters or -gtfs")
	}
	if *dbPath != "" {
		cfg.Store.SQLitePath = *dbPath
	}

	database, err := db.Connect(logger, cfg.Store.SQLitePath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}

	if *stopsCSV != "" {
		if err := importStops(ctx, logger, database, *stopsCSV); err != nil {
			logger.Fatal("stop import failed", zap.String("file", *stopsCSV), zap.Error(err))
		}
	}
	if *gtfsZip != "" {
		if err := importGTFS(ctx, logger, database, *gtfsZip); err != nil {
			logger.Fatal("GTFS stop import failed", zap.String("file", *gtfsZip), zap.Error(err))
		}
	}
	if *clustersCSV != "" {
		if err := importClusters(ctx, logger, database, *clustersCSV); err != nil {
			logger.Fatal("cluster import failed", zap.String("file", *clustersCSV), zap.Error(err))
		}
	}

	logger.Info("import complete")
}

func importStops(ctx context.Context, logger *zap.Logger, database *db.DB, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stops, rejected, err := importer.ParseStops(f)
	if err != nil {
		return err
	}
	logRejected(logger, path, rejected)

	if err := database.UpsertStops(ctx, stops); err != nil {
		return err
	}
	logger.Info("imported stops", zap.String("file", path), zap.Int("row_count", len(stops)), zap.Int("rejected", len(rejected)))
	return nil
}

func importGTFS(ctx context.Context, logger *zap.Logger, database *db.DB, path string) error {
	stops, rejected, err := importer.ParseGTFSStops(path)
	if err != nil {
		return err
	}
	logger.Debug("skipped GTFS stops", zap.String("file", path), zap.Int("count", len(rejected)))

	if err := database.UpsertStops(ctx, stops); err != nil {
		return err
	}
	logger.Info("imported GTFS stops", zap.String("file", path), zap.Int("row_count", len(stops)), zap.Int("rejected", len(rejected)))
	return nil
}

func importClusters(ctx context.Context, logger *zap.Logger, database *db.DB, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, rejected, err := importer.ParseClusters(f)
	if err != nil {
		return err
	}
	logRejected(logger, path, rejected)

	if err := database.UpsertClusters(ctx, rows); err != nil {
		return err
	}
	logger.Info("imported cluster rows", zap.String("file", path), zap.Int("row_count", len(rows)), zap.Int("rejected", len(rejected)))
	return nil
}

func logRejected(logger *zap.Logger, path string, rejected []importer.Rejected) {
	for _, r := range rejected {
		logger.Warn("rejected row",
			zap.String("file", path),
			zap.Int("line", r.Line),
			zap.String("stop_id", r.StopID),
			zap.String("reason", r.Reason),
		)
	}
}
