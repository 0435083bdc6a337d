package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"content-refinery/internal/analyzer"
	"content-refinery/internal/collector"
	"content-refinery/internal/config"
	"content-refinery/internal/coordinator"
	deliveryhttp "content-refinery/internal/delivery/http"
	"content-refinery/internal/heartbeat"
	"content-refinery/internal/ingest"
	"content-refinery/internal/mirror"
	"content-refinery/internal/repository"
	"content-refinery/internal/store"
	"content-refinery/pkg/chat"
	"content-refinery/pkg/logger"
	"content-refinery/pkg/postgres"
	pkgredis "content-refinery/pkg/redis"

	"github.com/labstack/echo/v4"
	redislib "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	exitConfigError  = 1
	exitStorageError = 2
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the content refinery",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(exitConfigError)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		os.Exit(exitConfigError)
	}

	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		os.Exit(exitConfigError)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting content refinery", zap.String("name", cfg.App.Name))

	// Storage.
	postgresCfg := postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
	db, err := postgres.NewDB(postgresCfg)
	if err != nil {
		appLogger.Error("Failed to initialize database", zap.Error(err))
		os.Exit(exitStorageError)
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		defer sqlDB.Close()
	}

	st := store.New(db.DB, appLogger)

	// Redis is optional; without it the signal broadcast stream is
	// disabled.
	var redisClient *redislib.Client
	if cfg.Redis.Host != "" {
		rc, err := pkgredis.NewClient(pkgredis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			appLogger.Warn("Redis unavailable, broadcast disabled", zap.Error(err))
		} else {
			redisClient = rc.Client
			defer rc.Close()
		}
	}

	// LLM client. The genai client only serves token counting.
	genAiClient, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.LLM.APIKey})
	if err != nil {
		appLogger.Warn("Failed to initialize token counting client", zap.Error(err))
		genAiClient = nil
	}
	llmRepo, err := repository.NewLLMRepository(cfg, appLogger, genAiClient)
	if err != nil {
		appLogger.Error("Failed to initialize LLM repository", zap.Error(err))
		os.Exit(exitConfigError)
	}

	sender, err := chat.NewClient(cfg.Chat.SendEndpoint, cfg.Chat.SendToken)
	if err != nil {
		appLogger.Error("Failed to initialize chat sender", zap.Error(err))
		os.Exit(exitConfigError)
	}

	// Signal sinks: the mirror, plus the broadcast stream.
	signalMirror := mirror.New(sender, appLogger,
		cfg.Chat.PrimaryChannelID, cfg.Chat.SecondaryChannelID,
		cfg.Mirror.PrimaryThreshold, cfg.Mirror.SecondaryThreshold)
	broadcaster := coordinator.NewBroadcaster(redisClient, appLogger, cfg.Redis.StreamMaxLen)

	batchAnalyzer := analyzer.New(st, llmRepo, appLogger, cfg.Analyzer, signalMirror, broadcaster)

	digestCadence, err := heartbeat.NewCadence(cfg.Heartbeat.DigestCron)
	if err != nil {
		appLogger.Error("Invalid digest cadence", zap.Error(err))
		os.Exit(exitConfigError)
	}
	janitorCadence, err := heartbeat.NewCadence(cfg.Heartbeat.JanitorCron)
	if err != nil {
		appLogger.Error("Invalid janitor cadence", zap.Error(err))
		os.Exit(exitConfigError)
	}

	coord := coordinator.New(coordinator.Deps{
		Store:          st,
		Analyzer:       batchAnalyzer,
		Commander:      collector.NewCommander(st, appLogger),
		Callbacks:      collector.NewCallbackDispatcher(st, llmRepo, sender, appLogger),
		Sender:         sender,
		Logger:         appLogger,
		DigestCadence:  digestCadence,
		JanitorCadence: janitorCadence,
	})

	hb := heartbeat.New(st.Settings, appLogger, coord.OnHeartbeat,
		cfg.Heartbeat.BaseMs, cfg.Heartbeat.MinMs, cfg.Heartbeat.MaxMs)
	coord.SetHeartbeat(hb)

	outboundLabels := []string{cfg.Chat.PrimaryChannelID, cfg.Chat.SecondaryChannelID}
	pipeline := ingest.NewPipeline(st, llmRepo, batchAnalyzer, hb, appLogger, outboundLabels, cfg.Analyzer.ReuseWindowMs)
	poller := collector.NewPoller(st, pipeline, appLogger,
		time.Duration(cfg.Poller.FetchTimeoutSec)*time.Second, cfg.Poller.StalenessMs)
	coord.SetPipeline(pipeline, poller)

	coord.Start(ctx)

	// HTTP server.
	e := echo.New()
	e.HideBanner = true
	handler := deliveryhttp.NewHandler(coord, db.DB, appLogger)
	handler.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	appLogger.Info("Content refinery started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down content refinery...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = e.Shutdown(shutdownCtx)

	cancel()
	coord.OnShutdown(5 * time.Second)
	appLogger.Info("Content refinery stopped")
}

func main() {
	rootCmd := &cobra.Command{Use: "refinery"}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")

	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing refinery CLI: %s\n", err)
		os.Exit(1)
	}
}
