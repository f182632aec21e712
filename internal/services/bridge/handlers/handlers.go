// Package handlers implements the business side of each inbound bridge
// message: registry mutation, chat forwarding, and operator notifications.
package handlers

import (
	"context"
	"fmt"
	"log"

	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/dispatch"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/registry"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/wire"
)

// Notifier delivers chat-style text to a logical channel of the chat
// platform. The platform integration supplies the real implementation.
type Notifier interface {
	Notify(ctx context.Context, channelID string, text string) error
}

// ConnProvider resolves a connection identity to its exclusive write handle.
// The transport layer implements it.
type ConnProvider interface {
	Conn(connID string) (registry.Conn, bool)
}

// Set wires the registry, the chat platform, and the transport together for
// every message schema the bridge understands.
type Set struct {
	registry      *registry.Service
	notifier      Notifier
	conns         ConnProvider
	chatChannelID string
}

// New creates the handler set. chatChannelID is the platform channel that
// receives forwarded chat and server events.
func New(reg *registry.Service, notifier Notifier, conns ConnProvider, chatChannelID string) *Set {
	return &Set{
		registry:      reg,
		notifier:      notifier,
		conns:         conns,
		chatChannelID: chatChannelID,
	}
}

// Register binds every schema to its handler on the pipeline.
func (s *Set) Register(p *dispatch.Pipeline) {
	p.Register(func() wire.Message { return &wire.ServerInfo{} }, s.handleServerInfo)
	p.Register(func() wire.Message { return &wire.ServerStatus{} }, s.handleServerStatus)
	p.Register(func() wire.Message { return &wire.ChatMessage{} }, s.handleChatMessage)
	p.Register(func() wire.Message { return &wire.PlayerStatus{} }, s.handlePlayerStatus)
	p.Register(func() wire.Message { return &wire.PlayersOnline{} }, s.handlePlayersOnline)
	p.Register(func() wire.Message { return &wire.GenericCommand{} }, s.handleGenericCommand)
}

func (s *Set) handleServerInfo(_ context.Context, req dispatch.Request) error {
	info := req.Body.(*wire.ServerInfo)
	conn, ok := s.conns.Conn(req.ConnID)
	if !ok {
		return fmt.Errorf("no connection handle for %s", req.ConnID)
	}
	server := s.registry.RegisterOrUpdate(info, conn)
	log.Printf("bridge: server %s announced on %s", server.ID(), req.ConnID)
	return nil
}

func (s *Set) handleServerStatus(ctx context.Context, req dispatch.Request) error {
	status := req.Body.(*wire.ServerStatus)
	id := registry.NormalizeID(status.ServerID)
	return s.notifier.Notify(ctx, s.chatChannelID, fmt.Sprintf("Server %s %s.", id, status.Status))
}

// handleChatMessage forwards in-game chat to the platform channel and to
// every other connected server. A partial broadcast failure is surfaced to
// the dispatch caller after the remaining servers were reached.
func (s *Set) handleChatMessage(ctx context.Context, req dispatch.Request) error {
	chat := req.Body.(*wire.ChatMessage)
	id := registry.NormalizeID(chat.ServerID)

	text := fmt.Sprintf("[%s] %s » %s", id, chat.MessageAuthor, chat.MessageBody)
	if err := s.notifier.Notify(ctx, s.chatChannelID, text); err != nil {
		return fmt.Errorf("forward chat to platform: %w", err)
	}
	return s.registry.BroadcastMessageExcept(id, chat)
}

func (s *Set) handlePlayerStatus(ctx context.Context, req dispatch.Request) error {
	status := req.Body.(*wire.PlayerStatus)
	server := s.registry.GetOnlineServer(status.ServerID)
	if server != nil {
		switch status.Status {
		case wire.PlayerStatusJoined:
			server.AddPlayer(status.PlayerName)
		case wire.PlayerStatusLeft:
			server.RemovePlayer(status.PlayerName)
		}
	}
	id := registry.NormalizeID(status.ServerID)
	text := fmt.Sprintf("[%s] %s %s the game.", id, status.PlayerName, status.Status)
	return s.notifier.Notify(ctx, s.chatChannelID, text)
}

func (s *Set) handlePlayersOnline(_ context.Context, req dispatch.Request) error {
	online := req.Body.(*wire.PlayersOnline)
	server := s.registry.GetOnlineServer(online.ServerID)
	if server == nil {
		// Status before identity announcement; nothing to update yet.
		log.Printf("bridge: players-online for unregistered server %q", online.ServerID)
		return nil
	}
	server.SetPlayersOnline(online.PlayersOnline, online.PlayerNames)
	return nil
}

// handleGenericCommand surfaces a server-initiated request on the channel the
// message names, falling back to the configured chat channel.
func (s *Set) handleGenericCommand(ctx context.Context, req dispatch.Request) error {
	cmd := req.Body.(*wire.GenericCommand)
	channelID := cmd.ChannelID
	if channelID == "" {
		channelID = s.chatChannelID
	}
	id := registry.NormalizeID(cmd.ServerID)
	text := fmt.Sprintf("[%s] %s", id, cmd.DefaultCommand)
	if cmd.CommandName != "" {
		text = fmt.Sprintf("[%s] %s: %s", id, cmd.CommandName, cmd.DefaultCommand)
	}
	return s.notifier.Notify(ctx, channelID, text)
}
