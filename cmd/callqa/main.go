package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/analysis"
	"callqa-server/pkg/api"
	"callqa-server/pkg/app"
	"callqa-server/pkg/audio"
	"callqa-server/pkg/config"
	"callqa-server/pkg/database"
	"callqa-server/pkg/lifecycle"
	"callqa-server/pkg/messaging"
	"callqa-server/pkg/metrics"
	"callqa-server/pkg/stt"
	"callqa-server/pkg/upload"
)

var (
	logger    = logrus.New()
	appConfig *config.Config

	dbConn     *database.SQLiteDatabase
	dbRepo     *database.Repository
	assembler  *upload.Assembler
	sttManager *stt.ProviderManager
	analyzer   analysis.Analyzer
	amqpClient *messaging.AMQPClient
	engine     *lifecycle.Engine
	worker     *lifecycle.Worker
	service    *app.Service
	apiServer  *api.Server

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	var err error
	appConfig, err = config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	config.SetupLogger(logger, &appConfig.Logging)

	metrics.StartMetrics(logger, appConfig.Metrics.Enabled, appConfig.Metrics.Port)

	if err := initStore(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize durable store")
	}
	defer dbConn.Close()

	if err := initPipeline(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize processing pipeline")
	}

	apiServer = api.NewServer(logger, &appConfig.Server, service, appConfig.Upload.RecordingDir, appConfig.Server.ExportDir)
	apiServer.Start()

	startBackground()

	logger.WithFields(logrus.Fields{
		"http_port":       appConfig.Server.Port,
		"stt_vendor":      appConfig.STT.DefaultVendor,
		"analysis_vendor": appConfig.Analysis.Vendor,
		"amqp_enabled":    appConfig.Messaging.Enabled,
		"database":        appConfig.Database.Path,
	}).Info("Call QA server started")

	waitForShutdown()
}

func initStore() error {
	var err error
	dbConn, err = database.NewSQLiteDatabase(appConfig.Database.Path, appConfig.Database.QueryTimeout, logger)
	if err != nil {
		return err
	}
	dbRepo = database.NewRepository(dbConn, logger)
	return nil
}

func initPipeline() error {
	var err error
	assembler, err = upload.NewAssembler(logger, appConfig.Upload.ScratchDir, appConfig.Upload.RecordingDir, appConfig.Upload.FragmentTTL)
	if err != nil {
		return err
	}

	sttManager = stt.NewProviderManager(logger, appConfig.STT.DefaultVendor)
	if err := registerProviders(); err != nil {
		return err
	}

	switch appConfig.Analysis.Vendor {
	case "openai":
		analyzer, err = analysis.NewOpenAIAnalyzer(logger, &appConfig.Analysis.OpenAI)
		if err != nil {
			return err
		}
	default:
		analyzer = analysis.NewMockAnalyzer(logger)
	}

	var publisher messaging.Publisher = messaging.NoopPublisher{}
	if appConfig.Messaging.Enabled {
		amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:       appConfig.Messaging.URL,
			QueueName: appConfig.Messaging.QueueName,
		})
		if err := amqpClient.Connect(); err != nil {
			// The outbox keeps jobs durable, the broker can come back later
			logger.WithError(err).Warn("AMQP connect failed, continuing with outbox only")
		}
		metrics.SetAMQPConnectionStatus(amqpClient.IsConnected())
		publisher = amqpClient
	}

	gate := audio.NewCompressionGate(logger, appConfig.Audio.FFmpegPath, appConfig.Audio.CompressBitrate)

	engine = lifecycle.NewEngine(
		logger, dbRepo, sttManager, gate, analyzer, publisher,
		appConfig.STT.DefaultVendor, appConfig.Audio.SizeCeilingBytes,
		appConfig.Messaging.QueueName,
	)
	engine.SetTimeouts(appConfig.STT.Timeout, appConfig.Analysis.Timeout)
	worker = lifecycle.NewWorker(logger, engine, dbRepo, appConfig.Messaging.OutboxSweep, appConfig.Messaging.OutboxStaleAge)
	service = app.NewService(logger, dbConn, dbRepo, assembler, engine)

	return nil
}

func registerProviders() error {
	mock := stt.NewMockProvider(logger)
	if err := sttManager.RegisterProvider(mock); err != nil {
		return err
	}

	if appConfig.STT.HTTP.Endpoint != "" {
		httpProvider := stt.NewHTTPProvider(logger, &appConfig.STT.HTTP)
		if err := sttManager.RegisterProvider(httpProvider); err != nil {
			return err
		}
	}

	if appConfig.STT.Google.Enabled {
		googleProvider := stt.NewGoogleProvider(logger, &appConfig.STT.Google)
		if err := sttManager.RegisterProvider(googleProvider); err != nil {
			return err
		}
	}

	return nil
}

func startBackground() {
	go worker.Run(rootCtx)
	go assembler.RunSweeper(appConfig.Upload.SweepInterval, rootCtx.Done())

	if appConfig.Repair.RunOnStart {
		go runRepair()
	}
	if appConfig.Repair.Interval > 0 {
		go repairScheduler()
	}
}

func runRepair() {
	report, err := service.RepairInconsistencies()
	if err != nil {
		logger.WithError(err).Error("Consistency repair failed")
		return
	}
	logger.WithFields(logrus.Fields{
		"processed": report.Processed,
		"updated":   report.Updated,
	}).Info("Consistency repair finished")
}

func repairScheduler() {
	ticker := time.NewTicker(appConfig.Repair.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			return
		case <-ticker.C:
			runRepair()
		}
	}
}

func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutting down")

	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP API server shutdown incomplete")
	}

	if amqpClient != nil {
		amqpClient.Disconnect()
	}

	// Give background workers a moment to finish their current item
	time.Sleep(500 * time.Millisecond)
	logger.Info("Shutdown complete")
}
