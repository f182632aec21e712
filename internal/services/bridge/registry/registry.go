package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/wire"
)

// TransportError wraps a failed write to a game-server connection. Callers
// decide per operation whether it is fatal.
type TransportError struct {
	ServerID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("write to server %s: %v", e.ServerID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BroadcastError reports the subset of servers a broadcast failed to reach.
// The remaining servers still received the message.
type BroadcastError struct {
	Failed []*TransportError
}

func (e *BroadcastError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, f.ServerID)
	}
	return fmt.Sprintf("broadcast failed for %d server(s): %s", len(ids), strings.Join(ids, ", "))
}

// Service is the concurrency-safe source of truth for which game servers are
// online right now. Entries are added on identity announcements and removed
// on disconnect, never implicitly.
type Service struct {
	mu      sync.Mutex
	servers map[string]*Server
}

// New creates an empty registry.
func New() *Service {
	return &Service{servers: make(map[string]*Server)}
}

// RegisterOrUpdate stores the announced server under its normalized id. An
// existing entry with the same key is replaced: the old connection handle is
// presumed superseded; tearing it down is the transport layer's concern.
func (s *Service) RegisterOrUpdate(info *wire.ServerInfo, conn Conn) *Server {
	server := &Server{
		id:         NormalizeID(info.ServerID),
		name:       info.ServerName,
		address:    info.ServerAddress,
		maxPlayers: info.MaxPlayers,
		conn:       conn,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[server.id] = server
	return server
}

// Remove drops any entry whose connection handle matches connID. Removing an
// unknown connection is a no-op.
func (s *Service) Remove(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, server := range s.servers {
		if server.conn.ID() == connID {
			delete(s.servers, id)
		}
	}
}

// GetOnlineServer returns the server registered under the normalized form of
// id, or nil. Absence is an expected outcome, not an error.
func (s *Service) GetOnlineServer(id string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.servers[NormalizeID(id)]
}

// SendMessage serializes msg and writes it through the server's exclusive
// connection handle.
func (s *Service) SendMessage(server *Server, msg wire.Message) error {
	raw, err := wire.Pack(msg)
	if err != nil {
		return err
	}
	if err := server.write(raw); err != nil {
		return &TransportError{ServerID: server.ID(), Err: err}
	}
	return nil
}

// BroadcastMessage sends msg to every currently registered server. A failed
// send does not stop delivery to the rest; the aggregate error lists which
// servers were missed.
func (s *Service) BroadcastMessage(msg wire.Message) error {
	return s.BroadcastMessageExcept("", msg)
}

// BroadcastMessageExcept broadcasts msg to every registered server other than
// the one with the given id. An empty id excludes nobody.
func (s *Service) BroadcastMessageExcept(exceptID string, msg wire.Message) error {
	raw, err := wire.Pack(msg)
	if err != nil {
		return err
	}

	except := ""
	if exceptID != "" {
		except = NormalizeID(exceptID)
	}

	s.mu.Lock()
	targets := make([]*Server, 0, len(s.servers))
	for id, server := range s.servers {
		if id == except {
			continue
		}
		targets = append(targets, server)
	}
	s.mu.Unlock()

	var failed []*TransportError
	for _, server := range targets {
		if err := server.write(raw); err != nil {
			failed = append(failed, &TransportError{ServerID: server.ID(), Err: err})
		}
	}
	if len(failed) > 0 {
		return &BroadcastError{Failed: failed}
	}
	return nil
}

// ListOnlineServers returns a snapshot of the public projection of every
// registered server, sorted by id.
func (s *Service) ListOnlineServers() []Info {
	s.mu.Lock()
	servers := make([]*Server, 0, len(s.servers))
	for _, server := range s.servers {
		servers = append(servers, server)
	}
	s.mu.Unlock()

	infos := make([]Info, 0, len(servers))
	for _, server := range servers {
		infos = append(infos, server.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
