package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	protocol "gardenchain/config"
	"gardenchain/core/events"
	nativecommon "gardenchain/native/common"
	"gardenchain/observability/logging"
	telemetry "gardenchain/observability/otel"
	"gardenchain/services/strategyd/audit"
	"gardenchain/services/strategyd/config"
	"gardenchain/services/strategyd/keeper"
	"gardenchain/services/strategyd/node"
	"gardenchain/services/strategyd/server"
	"gardenchain/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/strategyd/config.yaml", "path to strategyd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("GARDEN_ENV"))
	logger, logCloser := logging.SetupWithFile("strategyd", env, logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	defer logCloser.Close()

	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "strategyd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	proto, err := protocol.Load(cfg.Protocol)
	if err != nil {
		log.Fatalf("load protocol %s: %v", cfg.Protocol, err)
	}

	var db storage.Database
	if cfg.DataDir != "" {
		ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"), cfg.SyncWrites)
		if err != nil {
			log.Fatalf("open state database: %v", err)
		}
		db = ldb
	} else {
		logger.Warn("no data_dir configured, state is kept in memory")
	}

	auditStore, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN, logger)
	if err != nil {
		log.Fatalf("open audit store: %v", err)
	}
	defer auditStore.Close()
	logger.Info("audit store opened", "driver", cfg.Audit.Driver, "dsn", cfg.Audit.DSN)
	if err := auditStore.Verify(context.Background()); err != nil {
		logger.Error("audit log failed verification", "error", err)
	}

	n, err := node.New(proto, node.Options{
		DB:        db,
		Emitters:  []events.Emitter{auditStore},
		Sink:      auditStore,
		BusBuffer: cfg.Events.Buffer,
	})
	if err != nil {
		log.Fatalf("build node: %v", err)
	}
	defer n.Close()

	srv, err := server.New(server.Config{
		Node:  n,
		Audit: auditStore,
		Auth: server.AuthConfig{
			HMACSecret:  cfg.Auth.HMACSecret,
			Issuer:      cfg.Auth.Issuer,
			Audience:    cfg.Auth.Audience,
			KeeperScope: cfg.Auth.KeeperScope,
			AdminScope:  cfg.Auth.AdminScope,
			ClockSkew:   cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keeperErr := make(chan error, 1)
	if cfg.Keeper.Enabled {
		k, err := newKeeper(cfg.Keeper, n, logger)
		if err != nil {
			log.Fatalf("build keeper: %v", err)
		}
		go func() { keeperErr <- k.Run(ctx) }()
		logger.Info("keeper scheduled", "address", cfg.Keeper.Address, "schedule", cfg.Keeper.Schedule)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("strategyd listening", "address", cfg.ListenAddress, "gardens", len(n.Gardens()))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-keeperErr:
		if err != nil {
			logger.Error("keeper stopped", "error", err)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing server stop", "error", err)
		_ = httpServer.Close()
	}
}

func newKeeper(cfg config.KeeperConfig, n *node.Node, logger *slog.Logger) (*keeper.Keeper, error) {
	fee, err := cfg.FeeAmount()
	if err != nil {
		return nil, err
	}
	maxFee, err := cfg.Quota.MaxFee()
	if err != nil {
		return nil, err
	}
	return keeper.New(n, keeper.Options{
		Address:  common.HexToAddress(cfg.Address),
		Fee:      fee,
		Schedule: cfg.Schedule,
		Logger:   logger,
		Quota: nativecommon.Quota{
			MaxRequestsPerEpoch: cfg.Quota.MaxRequestsPerEpoch,
			MaxFeePerEpoch:      maxFee,
			EpochSeconds:        cfg.Quota.EpochSeconds,
		},
	})
}
