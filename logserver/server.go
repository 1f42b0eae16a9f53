// Package logserver implements the log aggregation endpoint shared by all
// specs in a run. Node processes (local or cross-host) submit log lines over
// TCP; each line is one JSON-encoded entry, recorded atomically against the
// currently active timeline collector.
package logserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-multinode/metrics"
	"github.com/ethereum-optimism/infra/op-multinode/timeline"
	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// StopTimeout bounds how long Stop waits for in-flight submissions to drain.
const StopTimeout = time.Minute

// Server is the long-lived network listener bound once per run.
type Server struct {
	registry *timeline.Registry
	log      log.Logger

	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	stopped  bool
	wg       sync.WaitGroup
}

// Config holds configuration for creating a new Server.
type Config struct {
	// Address is the listen address, e.g. "127.0.0.1:0". Port 0 asks the
	// OS for a free port; the assigned port is available via Addr before
	// any node process is launched.
	Address  string
	Registry *timeline.Registry
	Log      log.Logger
}

// NewServer binds the listener. The bind happens here, synchronously, so the
// assigned port can be handed to node processes as a launch argument.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("timeline registry is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("binding log aggregation server on %s: %w", cfg.Address, err)
	}

	s := &Server{
		registry: cfg.Registry,
		log:      cfg.Log,
		listener: listener,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	cfg.Log.Info("Log aggregation server listening", "addr", listener.Addr())
	return s, nil
}

// Addr returns the bound address, including the OS-assigned port.
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed during Stop.
			return
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConn drains one submitter connection. One line = one entry; entries
// from concurrent connections interleave at line granularity only.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry types.LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			s.log.Warn("Discarding malformed log submission", "err", err, "line", string(line))
			continue
		}
		if entry.Time.IsZero() {
			entry.Time = time.Now()
		}

		if s.registry.Record(entry) {
			metrics.RecordLogLine(entry.Role)
		} else {
			s.log.Debug("Dropped log submission for inactive spec",
				"spec", entry.SpecName, "node", entry.NodeIndex)
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Debug("Log submitter connection closed", "err", err)
	}
}

// Stop closes the listener and waits for all in-flight submissions to flush.
// It is bounded by StopTimeout (or an earlier ctx deadline); exceeding the
// bound is returned as an error, never silently ignored. After Stop returns,
// no further submission is ever recorded.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	_ = s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithTimeout(ctx, StopTimeout)
	defer cancel()

	select {
	case <-done:
		s.log.Info("Log aggregation server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("log aggregation server did not drain within %s: %w", StopTimeout, ctx.Err())
	}
}
