package chat

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cherryrecorder/cherryrecorder-server/internal/data"
)

// TCPListener accepts raw TCP connections for the line-framed chat
// protocol and attaches each to a new session.
type TCPListener struct {
	registry     *Registry
	policy       *data.ChatPolicy
	writeTimeout time.Duration
	log          *zap.Logger

	ln     net.Listener
	closed atomic.Bool
}

// NewTCPListener builds a listener bound to addr.
func NewTCPListener(addr string, registry *Registry, policy *data.ChatPolicy,
	writeTimeout time.Duration, log *zap.Logger) (*TCPListener, error) {

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("chat tcp listen %s: %w", addr, err)
	}
	log.Info("chat TCP listener started", zap.String("addr", addr))
	return &TCPListener{
		registry:     registry,
		policy:       policy,
		writeTimeout: writeTimeout,
		log:          log,
		ln:           ln,
	}, nil
}

// Addr returns the bound address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs the accept loop. Accept errors other than closure are logged
// and the loop continues; closure exits cleanly.
func (l *TCPListener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				l.log.Info("chat TCP listener stopped")
				return
			}
			l.log.Error("chat TCP accept error", zap.Error(err))
			continue
		}

		transport := NewLineTransport(conn, l.policy.MaxMessageSize)
		session := NewSession(transport, l.registry, l.policy, l.writeTimeout, l.log)
		if err := session.Start(); err != nil {
			l.log.Warn("failed to start chat session",
				zap.String("remote", transport.RemoteAddr()), zap.Error(err))
		}
	}
}

// Close stops the accept loop.
func (l *TCPListener) Close() error {
	l.closed.Store(true)
	return l.ln.Close()
}

// WSServer upgrades HTTP requests to WebSocket chat sessions. The same
// handler serves the plain and TLS listeners; only the Server header and
// the transport name differ.
type WSServer struct {
	registry     *Registry
	policy       *data.ChatPolicy
	writeTimeout time.Duration
	log          *zap.Logger
	upgrader     websocket.Upgrader
	name         string
	serverHeader string
}

// NewWSServer builds the upgrade handler for one WebSocket variant.
// tlsVariant selects the "(WSS)" Server header and transport name.
func NewWSServer(registry *Registry, policy *data.ChatPolicy, origins []string,
	writeTimeout time.Duration, tlsVariant bool, log *zap.Logger) *WSServer {

	name := "ws"
	serverHeader := "CherryRecorder/1.0"
	if tlsVariant {
		name = "wss"
		serverHeader = "CherryRecorder/1.0 (WSS)"
	}

	checker := newOriginChecker(origins, log)
	return &WSServer{
		registry:     registry,
		policy:       policy,
		writeTimeout: writeTimeout,
		log:          log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checker.check,
		},
		name:         name,
		serverHeader: serverHeader,
	}
}

// Handler returns the HTTP handler performing the WebSocket handshake and
// admitting the session.
func (w *WSServer) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(rw, "Method not allowed. WebSocket endpoint only accepts GET requests.",
				http.StatusMethodNotAllowed)
			return
		}

		conn, err := w.upgrader.Upgrade(rw, r, http.Header{"Server": []string{w.serverHeader}})
		if err != nil {
			w.log.Warn("WebSocket upgrade failed",
				zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}

		transport := NewWSTransport(conn, w.name, w.policy.MaxMessageSize)
		session := NewSession(transport, w.registry, w.policy, w.writeTimeout, w.log)
		if err := session.Start(); err != nil {
			w.log.Warn("failed to start chat session",
				zap.String("remote", r.RemoteAddr), zap.Error(err))
		}
	})
}
