package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/dispatch"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/handlers"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/registry"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/restart"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/storage"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/transport"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/wire"
)

// ErrServerOffline reports a command addressed to a server that is not
// connected right now. Surfaced to the operator as a readable message.
var ErrServerOffline = errors.New("server is not online")

// Config assembles the bridge components. Zero values fall back to
// serviceable defaults.
type Config struct {
	Addr          string
	ChatChannelID string
	JobIDPrefix   string
	MaxFrameBytes int
	PollInterval  time.Duration
	LookAhead     time.Duration
	MaxAttempts   uint
	RetryBackoff  time.Duration
	ShutdownGrace time.Duration
}

// Bridge ties the registry, dispatch pipeline, transport, and restart
// scheduler together and exposes the operator-facing operations the chat
// platform layer calls into.
type Bridge struct {
	cfg       Config
	registry  *registry.Service
	pipeline  *dispatch.Pipeline
	transport *transport.Server
	scheduler *restart.Scheduler
}

type transportConns struct {
	server *transport.Server
}

func (t transportConns) Conn(connID string) (registry.Conn, bool) {
	conn, ok := t.server.Conn(connID)
	if !ok {
		return nil, false
	}
	return conn, true
}

// New wires a bridge over the given job store and chat-platform notifier.
func New(cfg Config, store storage.JobStore, notifier handlers.Notifier) (*Bridge, error) {
	if cfg.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}

	b := &Bridge{
		cfg:      cfg,
		registry: registry.New(),
	}

	srv, err := transport.New(transport.Config{
		Addr:          cfg.Addr,
		MaxFrameBytes: cfg.MaxFrameBytes,
		ShutdownGrace: cfg.ShutdownGrace,
		OnMessage: func(ctx context.Context, connID string, frame []byte) error {
			return b.pipeline.Handle(ctx, connID, frame)
		},
		OnDisconnect: func(connID string) {
			b.registry.Remove(connID)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	b.transport = srv

	b.pipeline = dispatch.New()
	handlerSet := handlers.New(b.registry, notifier, transportConns{server: srv}, cfg.ChatChannelID)
	handlerSet.Register(b.pipeline)

	b.scheduler = restart.New(store, b.registry, restart.Config{
		JobIDPrefix:   cfg.JobIDPrefix,
		ChatChannelID: cfg.ChatChannelID,
		PollInterval:  cfg.PollInterval,
		LookAhead:     cfg.LookAhead,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
	})

	return b, nil
}

// ListOnlineServers returns the public projection of every connected server.
func (b *Bridge) ListOnlineServers() []registry.Info {
	return b.registry.ListOnlineServers()
}

// SendCommand sends a remote command to one server.
func (b *Bridge) SendCommand(_ context.Context, serverID, command string) error {
	server := b.registry.GetOnlineServer(serverID)
	if server == nil {
		return fmt.Errorf("%s: %w", registry.NormalizeID(serverID), ErrServerOffline)
	}
	return b.registry.SendMessage(server, &wire.GenericCommand{
		ServerID:       server.ID(),
		ChannelID:      b.cfg.ChatChannelID,
		DefaultCommand: command,
	})
}

// BroadcastChat forwards a chat-platform message to every connected server.
func (b *Bridge) BroadcastChat(_ context.Context, author, text string) error {
	return b.registry.BroadcastMessage(&wire.ChatMessage{
		MessageAuthor: author,
		MessageBody:   text,
	})
}

// ScheduleRestart creates or updates the recurring restart for a server.
func (b *Bridge) ScheduleRestart(ctx context.Context, serverID, cronExpr string) (storage.RestartJob, error) {
	return b.scheduler.ScheduleOrUpdate(ctx, serverID, cronExpr)
}

// StopRestart removes a server's recurring restart, succeeding when none exists.
func (b *Bridge) StopRestart(ctx context.Context, serverID string) error {
	return b.scheduler.Stop(ctx, serverID)
}

// ListUpcomingRestarts returns restarts due within the look-ahead window.
func (b *Bridge) ListUpcomingRestarts(ctx context.Context) ([]restart.Upcoming, error) {
	return b.scheduler.ListUpcoming(ctx)
}

// LogNotifier writes platform notifications to the process log. It stands in
// when no chat-platform integration is configured.
type LogNotifier struct{}

// Notify logs the notification text against its channel.
func (LogNotifier) Notify(_ context.Context, channelID, text string) error {
	log.Printf("notify channel %s: %s", channelID, text)
	return nil
}
