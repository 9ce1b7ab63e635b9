package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Capstone-E1/extractlab_backend/config"
	"github.com/Capstone-E1/extractlab_backend/internal/blob"
	"github.com/Capstone-E1/extractlab_backend/internal/database"
	httphandlers "github.com/Capstone-E1/extractlab_backend/internal/http"
	"github.com/Capstone-E1/extractlab_backend/internal/ml"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
	"github.com/Capstone-E1/extractlab_backend/internal/mqtt"
	"github.com/Capstone-E1/extractlab_backend/internal/services"
	"github.com/Capstone-E1/extractlab_backend/internal/sheets"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
	"github.com/Capstone-E1/extractlab_backend/internal/telemetry"
	"github.com/Capstone-E1/extractlab_backend/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := cfg.Logging.NewLogger()
	logger.Info("🧪 Starting ExtractLab Extraction Analytics Backend...")

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("❌ Invalid configuration")
	}
	logger.WithFields(logrus.Fields{
		"port":      cfg.Server.Port,
		"db_driver": cfg.Database.Driver,
		"blob":      cfg.Blob.Driver,
	}).Info("📋 Loaded configuration")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("❌ Server stopped with error")
	}
	logger.Info("✅ Server shutdown complete")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataStore, closeStore := openStore(cfg.Database, logger)
	defer closeStore()

	modelsCfg, err := config.LoadModelsConfig(cfg.ML.ModelConfigPath)
	if err != nil {
		return err
	}
	bundle, err := ml.NewModels(modelsCfg, logger)
	if err != nil {
		return err
	}

	blobs, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.Blob.Driver),
		FSRoot: cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          cfg.Blob.S3Region,
			Bucket:          cfg.Blob.S3Bucket,
			Endpoint:        cfg.Blob.S3Endpoint,
			AccessKeyID:     cfg.Blob.S3AccessKeyID,
			SecretAccessKey: cfg.Blob.S3SecretKey,
			PathStyle:       cfg.Blob.S3UsePathStyle,
		},
	})
	if err != nil {
		logger.WithError(err).Warn("⚠️  Blob store unavailable, model artifacts will not persist")
		blobs = nil
	}

	metrics := telemetry.New()
	hub := ws.NewHub(cfg.Server.AllowedOrigins, logger)

	mlService := ml.NewService(bundle, dataStore, blobs, ml.ServiceConfig{
		RetrainInterval:    cfg.ML.RetrainInterval,
		MinTrainingSamples: cfg.ML.MinTrainingSamples,
		AutoSave:           cfg.ML.AutoSave,
	}, logger)
	mlService.SetRetrainHandler(func(report *ml.RetrainReport) {
		metrics.ObserveRetrain(report.Optimizer.Model, report.Optimizer.Success)
		metrics.ObserveRetrain(report.Detector.Model, report.Detector.Success)
		hub.BroadcastModelsRetrained(report)
	})
	if cfg.ML.LoadOnStartup && blobs != nil {
		if n, err := mlService.LoadModels(ctx); err != nil {
			logger.WithError(err).Warn("⚠️  Failed to load saved models, starting untrained")
		} else {
			logger.WithField("models", n).Info("🤖 Loaded saved models")
		}
	}

	analyzerOpts := []services.AnalyzerOption{
		services.WithBroadcaster(hub),
		services.WithMetrics(metrics),
	}
	var sheetClient httphandlers.SheetClient
	if cfg.Sheets.SpreadsheetURL != "" {
		client, err := sheets.NewClient(ctx, cfg.Sheets, logger)
		if err != nil {
			logger.WithError(err).Warn("⚠️  Spreadsheet sync disabled")
		} else {
			sheetClient = client
			analyzerOpts = append(analyzerOpts, services.WithSheetSync(client))
			logger.WithField("sheet", cfg.Sheets.SheetName).Info("📊 Spreadsheet sync enabled")
		}
	} else {
		logger.Info("📊 Spreadsheet not configured, skipping sync")
	}
	analyzer := services.NewBatchAnalyzer(dataStore, bundle, logger, analyzerOpts...)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = startMQTT(ctx, cfg.MQTT, analyzer, metrics, logger)
		if mqttClient != nil {
			defer mqttClient.Disconnect()
		}
	} else {
		logger.Info("📡 MQTT disabled, skipping instrument ingest")
	}

	router := httphandlers.SetupRoutes(httphandlers.Dependencies{
		Store:          dataStore,
		Analyzer:       analyzer,
		Models:         bundle,
		MLService:      mlService,
		Hub:            hub,
		Sheets:         sheetClient,
		Metrics:        metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	mlService.Start()
	defer mlService.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Infof("🚀 HTTP server listening on :%s", cfg.Server.Port)
		logger.Info("  /api/v1  REST API")
		logger.Info("  /ws      WebSocket batch updates")
		logger.Info("  /metrics Prometheus metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("🛑 Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore connects the configured database, falling back to memory
func openStore(cfg config.DatabaseConfig, logger *logrus.Logger) (store.DataStore, func()) {
	if cfg.Driver == "memory" {
		logger.Info("💾 Using in-memory data store")
		return store.NewStore(1000), func() {}
	}
	db, err := database.Connect(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("⚠️  Failed to connect to database, falling back to in-memory storage")
		return store.NewStore(1000), func() {}
	}
	if err := database.CreateTables(db, logger); err != nil {
		logger.WithError(err).Warn("⚠️  Failed to create tables, falling back to in-memory storage")
		db.Close()
		return store.NewStore(1000), func() {}
	}
	logger.WithField("driver", db.Dialect).Info("💾 Initialized database data store")
	return database.NewDatabaseStore(db), func() { db.Close() }
}

// startMQTT connects the instrument listener. Results are attached to their
// batch and the analysis is published back.
func startMQTT(ctx context.Context, cfg config.MQTTConfig, analyzer *services.BatchAnalyzer, metrics *telemetry.Metrics, logger *logrus.Logger) *mqtt.Client {
	client := mqtt.NewClient(cfg, logger)
	client.SetErrorHandler(func(err error) {
		if errors.Is(err, models.ErrInvalidInput) {
			metrics.ObserveInstrumentResult(false)
		}
	})
	client.SetResultHandler(func(r *models.InstrumentResult) {
		res, err := analyzer.AttachResult(ctx, r)
		if err != nil {
			metrics.ObserveInstrumentResult(false)
			logger.WithError(err).WithField("batch_id", r.BatchID).Warn("Failed to attach instrument result")
			return
		}
		metrics.ObserveInstrumentResult(true)
		if err := client.PublishAnalysis(res.Batch); err != nil {
			logger.WithError(err).WithField("batch_id", r.BatchID).Warn("Failed to publish analysis")
		}
	})

	if err := client.Connect(); err != nil {
		logger.WithError(err).Warn("⚠️  Failed to connect to MQTT broker, continuing without instrument ingest")
		return nil
	}
	if err := client.SubscribeToResults(); err != nil {
		logger.WithError(err).Warn("⚠️  Failed to subscribe to instrument topics")
	}
	logger.WithField("topics", client.Topics()).Info("📡 MQTT instrument listener started")
	return client
}
