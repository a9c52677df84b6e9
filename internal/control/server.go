// Package control implements the line-oriented TCP channel that
// registers filename -> URL mappings at runtime.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/javi11/httpmount/internal/registry"
)

const connReadTimeout = 30 * time.Second

// updateMessage is one registration request:
// {"filename": "...", "url": "..."}
type updateMessage struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Server accepts registration requests over TCP. Each connection
// carries a single JSON object and receives OK or ERROR: <msg>.
type Server struct {
	addr     string
	registry *registry.Registry
	logger   *slog.Logger

	listener net.Listener
	conns    conc.WaitGroup
	cancel   context.CancelFunc
}

// NewServer creates a control server listening on addr once started.
func NewServer(addr string, reg *registry.Registry, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		registry: reg,
		logger:   logger,
	}
}

// Start binds the listener and serves connections in the background.
// Call Stop (or cancel ctx) to shut down.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.logger.Info("Control server listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	go s.acceptLoop()
	return nil
}

// Stop closes the listener and waits for in-flight connections.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.conns.Wait()
	s.logger.Info("Control server stopped")
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Control accept failed", "error", err)
			continue
		}

		s.conns.Go(func() {
			s.handle(conn)
		})
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	log := s.logger.With("conn_id", uuid.NewString(), "remote", conn.RemoteAddr().String())

	if err := conn.SetReadDeadline(time.Now().Add(connReadTimeout)); err != nil {
		log.Warn("Set read deadline failed", "error", err)
		return
	}

	var msg updateMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Warn("Rejected malformed control message", "error", err)
		s.reply(conn, log, fmt.Sprintf("ERROR: invalid message: %v", err))
		return
	}

	if msg.Filename == "" || msg.URL == "" {
		log.Warn("Rejected incomplete control message")
		s.reply(conn, log, "ERROR: filename and url are required")
		return
	}

	if _, err := s.registry.Register(msg.Filename, msg.URL); err != nil {
		log.Warn("Registration rejected", "filename", msg.Filename, "error", err)
		s.reply(conn, log, fmt.Sprintf("ERROR: %v", err))
		return
	}

	log.Info("Registered mapping", "filename", msg.Filename, "url", msg.URL)
	s.reply(conn, log, "OK")
}

func (s *Server) reply(conn net.Conn, log *slog.Logger, msg string) {
	if _, err := conn.Write([]byte(msg)); err != nil {
		log.Debug("Control reply failed", "error", err)
	}
}
