// Package chat implements the chat session fabric: sessions over three
// transports (line-framed TCP, WebSocket, WebSocket over TLS), rooms, and
// the registry that owns all shared chat state.
package chat

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ErrFrameTooLarge is returned when an inbound frame exceeds the policy's
// maximum message size.
var ErrFrameTooLarge = errors.New("chat: inbound frame exceeds maximum size")

// Transport hides the framing differences between the chat transports.
// ReadFrame blocks for one inbound text frame with line endings stripped;
// WriteFrame sends one outbound message, appending the "\r\n" terminator.
// All other session behavior is transport independent.
type Transport interface {
	ReadFrame() (string, error)
	WriteFrame(msg string, deadline time.Duration) error
	Close() error
	RemoteAddr() string
	Name() string
	SupportsPrivateMessages() bool
	// PingInterval returns the keepalive interval, or zero when the
	// transport needs no pings.
	PingInterval() time.Duration
	Ping(deadline time.Duration) error
}

// lineTransport frames messages as "\r\n"-terminated UTF-8 lines over a raw
// TCP connection.
type lineTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// NewLineTransport wraps a TCP connection in the line-framed chat protocol.
func NewLineTransport(conn net.Conn, maxFrameSize int64) Transport {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), int(maxFrameSize))
	return &lineTransport{conn: conn, scanner: scanner}
}

func (t *lineTransport) ReadFrame() (string, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return "", ErrFrameTooLarge
			}
			return "", err
		}
		return "", fmt.Errorf("read line: %w", errPeerClosed)
	}
	return strings.TrimSuffix(t.scanner.Text(), "\r"), nil
}

func (t *lineTransport) WriteFrame(msg string, deadline time.Duration) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	_, err := t.conn.Write([]byte(msg + "\r\n"))
	return err
}

func (t *lineTransport) Close() error                  { return t.conn.Close() }
func (t *lineTransport) RemoteAddr() string            { return t.conn.RemoteAddr().String() }
func (t *lineTransport) Name() string                  { return "tcp" }
func (t *lineTransport) SupportsPrivateMessages() bool { return false }
func (t *lineTransport) PingInterval() time.Duration   { return 0 }
func (t *lineTransport) Ping(time.Duration) error      { return nil }

// wsReadTimeout is the idle window after which a WebSocket peer that
// answers no pings is considered gone.
const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
)

// wsTransport frames messages as WebSocket text messages. The same type
// serves the plain and TLS variants; only the handshake differs.
type wsTransport struct {
	conn *websocket.Conn
	name string
}

// NewWSTransport wraps an upgraded WebSocket connection. name distinguishes
// the plain ("ws") and TLS ("wss") listeners in logs.
func NewWSTransport(conn *websocket.Conn, name string, maxFrameSize int64) Transport {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	return &wsTransport{conn: conn, name: name}
}

func (t *wsTransport) ReadFrame() (string, error) {
	msgType, payload, err := t.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return "", ErrFrameTooLarge
		}
		return "", err
	}
	if msgType != websocket.TextMessage {
		return "", errors.New("chat: binary frames are not supported")
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	return strings.TrimRight(string(payload), "\r\n"), nil
}

func (t *wsTransport) WriteFrame(msg string, deadline time.Duration) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(msg+"\r\n"))
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string            { return t.conn.RemoteAddr().String() }
func (t *wsTransport) Name() string                  { return t.name }
func (t *wsTransport) SupportsPrivateMessages() bool { return true }
func (t *wsTransport) PingInterval() time.Duration   { return wsPingInterval }

func (t *wsTransport) Ping(deadline time.Duration) error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(deadline))
}

var errPeerClosed = errors.New("peer closed connection")

// isExpectedCloseError checks if an error is expected during connection
// teardown: peer EOF, reset, and our own shutdown all count as normal.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, errPeerClosed) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "EOF")
}
