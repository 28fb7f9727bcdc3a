// Package echo implements the byte-for-byte TCP echo service. It has no
// framing and no relation to the chat core; it exists as a connectivity
// sanity endpoint.
package echo

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"go.uber.org/zap"
)

const bufferSize = 1024

// Server accepts TCP connections and echoes whatever bytes arrive.
type Server struct {
	ln     net.Listener
	log    *zap.Logger
	closed atomic.Bool
}

// New binds the echo service to addr.
func New(addr string, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("echo listen %s: %w", addr, err)
	}
	log.Info("echo server started", zap.String("addr", addr))
	return &Server{ln: ln, log: log}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve runs the accept loop until Close.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				s.log.Info("echo server stopped")
				return
			}
			s.log.Error("echo accept error", zap.Error(err))
			continue
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.log.Debug("echo connection opened", zap.String("remote", remote))

	buf := make([]byte, bufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				s.log.Debug("echo write error", zap.String("remote", remote), zap.Error(werr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("echo read error", zap.String("remote", remote), zap.Error(err))
			}
			return
		}
	}
}

// Close stops the accept loop.
func (s *Server) Close() error {
	s.closed.Store(true)
	return s.ln.Close()
}
