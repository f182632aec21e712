// Package registry tracks the game servers currently connected to the bridge
// and routes outbound envelopes to them.
//
// The registry is the only shared mutable state in the bridge core. Absence
// from the registry is the offline state; no tombstones are kept.
package registry

import (
	"strings"
	"sync"
)

// Conn is the exclusive write handle for one live game-server connection.
// Implementations must serialize concurrent writes to the same connection.
type Conn interface {
	ID() string
	Write(payload []byte) error
}

// NormalizeID canonicalizes a server id for use as the routing key: reserved
// markup is stripped and the remainder upper-cased. Announced ids and lookup
// keys go through the same normalization so comparisons are case-insensitive.
func NormalizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	skipNext := false
	for _, r := range id {
		if skipNext {
			skipNext = false
			continue
		}
		switch r {
		case '§', '&':
			// Color code: the sequence character and the code after it.
			skipNext = true
		case '[', ']', '(', ')':
		default:
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(strings.TrimSpace(b.String()))
}

// Info is the public projection of a connected server, safe to hand out of
// the registry. It never exposes the connection handle.
type Info struct {
	ID            string
	Name          string
	Address       string
	MaxPlayers    uint32
	PlayersOnline uint32
	PlayerNames   []string
}

// Server is one live connection paired with the identity the remote process
// announced. Player counters mutate as status messages arrive, concurrently
// with lookups from command handlers, so every access goes through the lock.
type Server struct {
	mu sync.Mutex

	id         string
	name       string
	address    string
	maxPlayers uint32

	playersOnline uint32
	playerNames   []string

	conn Conn
}

// ID returns the normalized routing key.
func (s *Server) ID() string { return s.id }

// ConnID returns the identity of the underlying connection.
func (s *Server) ConnID() string { return s.conn.ID() }

// Info returns a snapshot of the server's public-facing state.
func (s *Server) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.playerNames))
	copy(names, s.playerNames)
	return Info{
		ID:            s.id,
		Name:          s.name,
		Address:       s.address,
		MaxPlayers:    s.maxPlayers,
		PlayersOnline: s.playersOnline,
		PlayerNames:   names,
	}
}

// SetPlayersOnline replaces the live player snapshot.
func (s *Server) SetPlayersOnline(count uint32, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playersOnline = count
	s.playerNames = make([]string, len(names))
	copy(s.playerNames, names)
}

// AddPlayer records a player joining.
func (s *Server) AddPlayer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.playerNames {
		if existing == name {
			return
		}
	}
	s.playerNames = append(s.playerNames, name)
	s.playersOnline = uint32(len(s.playerNames))
}

// RemovePlayer records a player leaving. Unknown names are ignored.
func (s *Server) RemovePlayer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.playerNames {
		if existing == name {
			s.playerNames = append(s.playerNames[:i], s.playerNames[i+1:]...)
			s.playersOnline = uint32(len(s.playerNames))
			return
		}
	}
}

// write sends payload through the server's exclusive connection handle.
func (s *Server) write(payload []byte) error {
	return s.conn.Write(payload)
}
