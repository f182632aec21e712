// Package transport owns the TCP side of the bridge: a listener accepting
// long-lived game-server connections, length-framed reads delivered in order,
// and serialized writes back to each connection.
//
// Framing is a 4-byte big-endian length prefix followed by the envelope
// bytes. One reader goroutine per connection invokes OnMessage for each frame
// so per-connection inbound order is preserved end to end.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultMaxFrameBytes = 256 * 1024
	lengthPrefixBytes    = 4
)

// Config controls the TCP listener and its callbacks.
type Config struct {
	Addr          string
	MaxFrameBytes int
	ShutdownGrace time.Duration

	// OnMessage receives each framed message in arrival order. Errors are
	// logged; they never close the connection.
	OnMessage func(ctx context.Context, connID string, frame []byte) error
	// OnDisconnect fires once when a connection closes, after its last
	// OnMessage call returned.
	OnDisconnect func(connID string)
}

// Conn is one live game-server connection. Writes are serialized by the
// connection's own lock; no two concurrent writers can interleave frames.
type Conn struct {
	id string

	writeMu sync.Mutex
	nc      net.Conn

	maxFrame int
}

// ID returns the connection identity used by callbacks and the registry.
func (c *Conn) ID() string { return c.id }

// Write frames payload and writes it to the connection.
func (c *Conn) Write(payload []byte) error {
	if len(payload) > c.maxFrame {
		return fmt.Errorf("frame of %d bytes exceeds limit %d", len(payload), c.maxFrame)
	}
	header := make([]byte, lengthPrefixBytes)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.nc.Write(header); err != nil {
		return err
	}
	_, err := c.nc.Write(payload)
	return err
}

func (c *Conn) close() {
	_ = c.nc.Close()
}

// Server accepts bridge connections and pumps their frames into OnMessage.
type Server struct {
	cfg Config

	mu       sync.Mutex
	conns    map[string]*Conn
	listener net.Listener

	connSeq atomic.Uint64
	readers sync.WaitGroup
}

// New validates cfg and creates a stopped server.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if cfg.OnMessage == nil {
		return nil, errors.New("message callback is required")
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaultMaxFrameBytes
	}
	return &Server{cfg: cfg, conns: make(map[string]*Conn)}, nil
}

// Conn resolves a connection identity to its live handle.
func (s *Server) Conn(id string) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	return conn, ok
}

// Addr returns the bound listen address, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens and serves until ctx is cancelled, then stops accepting, closes
// every connection, and waits up to the shutdown grace for in-flight message
// handling to finish.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	log.Printf("bridge: listening for game servers at %v", listener.Addr())

	for {
		nc, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.shutdown()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		conn := &Conn{
			id:       fmt.Sprintf("%s#%d", nc.RemoteAddr(), s.connSeq.Add(1)),
			nc:       nc,
			maxFrame: s.cfg.MaxFrameBytes,
		}
		s.mu.Lock()
		s.conns[conn.id] = conn
		s.mu.Unlock()

		s.readers.Add(1)
		go s.readLoop(ctx, conn)
	}
}

func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	defer s.readers.Done()
	defer func() {
		conn.close()
		s.mu.Lock()
		delete(s.conns, conn.id)
		s.mu.Unlock()
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(conn.id)
		}
	}()

	header := make([]byte, lengthPrefixBytes)
	for {
		if _, err := io.ReadFull(conn.nc, header); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Printf("bridge: read header from %s: %v", conn.id, err)
			}
			return
		}
		length := binary.BigEndian.Uint32(header)
		if length > uint32(s.cfg.MaxFrameBytes) {
			// An oversized frame means the stream is no longer trustworthy.
			log.Printf("bridge: frame of %d bytes from %s exceeds limit, closing", length, conn.id)
			return
		}

		frame := make([]byte, length)
		if _, err := io.ReadFull(conn.nc, frame); err != nil {
			if ctx.Err() == nil {
				log.Printf("bridge: read frame from %s: %v", conn.id, err)
			}
			return
		}

		// Handler failures are local to this one message.
		if err := s.cfg.OnMessage(ctx, conn.id, frame); err != nil {
			log.Printf("bridge: handle message from %s: %v", conn.id, err)
		}
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		conn.close()
	}

	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	done := make(chan struct{})
	go func() {
		s.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("bridge: shutdown grace of %v elapsed with handlers still running", grace)
	}
}
