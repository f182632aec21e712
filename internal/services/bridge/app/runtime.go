package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/handlers"
	bridgesqlite "github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/storage/sqlite"
)

// RuntimeConfig controls bridge startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port          int
	HealthPort    int
	DBPath        string
	ChatChannelID string
	JobIDPrefix   string
	MaxFrameBytes int
	PollInterval  time.Duration
	LookAhead     time.Duration
	MaxAttempts   uint
	RetryBackoff  time.Duration
	ShutdownGrace time.Duration

	// Notifier overrides the log-backed default; the chat platform
	// integration supplies it.
	Notifier handlers.Notifier
}

const (
	defaultBridgePort = 5005
	defaultHealthPort = 8091
	defaultBridgeDB   = "data/bridge.db"
)

// Run starts bridge runtime dependencies and serves until ctx is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultBridgePort
	}
	if cfg.HealthPort <= 0 {
		cfg.HealthPort = defaultHealthPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultBridgeDB
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create bridge storage dir: %w", err)
		}
	}

	store, err := bridgesqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open bridge sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close bridge sqlite store: %v", closeErr)
		}
	}()

	bridge, err := New(Config{
		Addr:          fmt.Sprintf(":%d", cfg.Port),
		ChatChannelID: cfg.ChatChannelID,
		JobIDPrefix:   cfg.JobIDPrefix,
		MaxFrameBytes: cfg.MaxFrameBytes,
		PollInterval:  cfg.PollInterval,
		LookAhead:     cfg.LookAhead,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		ShutdownGrace: cfg.ShutdownGrace,
	}, store, notifier)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HealthPort))
	if err != nil {
		return fmt.Errorf("listen on health port %d: %w", cfg.HealthPort, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("bridge.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("bridge health server listening at %v", listener.Addr())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return bridge.transport.Run(groupCtx)
	})
	group.Go(func() error {
		return bridge.scheduler.Run(groupCtx)
	})
	return group.Wait()
}
