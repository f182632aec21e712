// Package bridge parses bridge command flags and launches the bridge runtime.
package bridge

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/platform/cmd"
	bridgeserver "github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/app"
)

// Config holds bridge command configuration.
type Config struct {
	Port          int           `env:"MMCC_BOT_BRIDGE_PORT" envDefault:"5005"`
	HealthPort    int           `env:"MMCC_BOT_BRIDGE_HEALTH_PORT" envDefault:"8091"`
	DBPath        string        `env:"MMCC_BOT_BRIDGE_DB_PATH" envDefault:"data/bridge.db"`
	ChatChannelID string        `env:"MMCC_BOT_BRIDGE_CHAT_CHANNEL_ID"`
	JobIDPrefix   string        `env:"MMCC_BOT_BRIDGE_JOB_ID_PREFIX" envDefault:"server-restart-"`
	MaxFrameBytes int           `env:"MMCC_BOT_BRIDGE_MAX_FRAME_BYTES" envDefault:"1048576"`
	PollInterval  time.Duration `env:"MMCC_BOT_BRIDGE_POLL_INTERVAL" envDefault:"15s"`
	LookAhead     time.Duration `env:"MMCC_BOT_BRIDGE_LOOK_AHEAD" envDefault:"1h"`
	MaxAttempts   uint          `env:"MMCC_BOT_BRIDGE_MAX_ATTEMPTS" envDefault:"3"`
	RetryBackoff  time.Duration `env:"MMCC_BOT_BRIDGE_RETRY_BACKOFF" envDefault:"5s"`
	ShutdownGrace time.Duration `env:"MMCC_BOT_BRIDGE_SHUTDOWN_GRACE" envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The game-server TCP listener port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The bridge health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The bridge SQLite database path")
	fs.StringVar(&cfg.ChatChannelID, "chat-channel-id", cfg.ChatChannelID, "Chat platform channel for cross-server traffic")
	fs.StringVar(&cfg.JobIDPrefix, "job-id-prefix", cfg.JobIDPrefix, "Prefix for scheduled restart job ids")
	fs.IntVar(&cfg.MaxFrameBytes, "max-frame-bytes", cfg.MaxFrameBytes, "Maximum inbound frame size in bytes")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Restart job store poll interval")
	fs.DurationVar(&cfg.LookAhead, "look-ahead", cfg.LookAhead, "Window for listing upcoming restarts")
	fs.UintVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum delivery attempts for restart commands")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Delay between restart delivery attempts")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "Grace period for draining connections on shutdown")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the bridge runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceBridge, func(ctx context.Context) error {
		return bridgeserver.Run(ctx, bridgeserver.RuntimeConfig{
			Port:          cfg.Port,
			HealthPort:    cfg.HealthPort,
			DBPath:        cfg.DBPath,
			ChatChannelID: cfg.ChatChannelID,
			JobIDPrefix:   cfg.JobIDPrefix,
			MaxFrameBytes: cfg.MaxFrameBytes,
			PollInterval:  cfg.PollInterval,
			LookAhead:     cfg.LookAhead,
			MaxAttempts:   cfg.MaxAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			ShutdownGrace: cfg.ShutdownGrace,
		})
	})
}
