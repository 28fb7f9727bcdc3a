package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cherryrecorder/cherryrecorder-server/internal/data"
)

// Session owns one client connection end to end: it parses inbound frames
// into commands and chat lines, queues outbound frames, and delivers them
// to the wire in arrival order through a single write pump. Teardown is
// initiated exactly once regardless of how many paths request it.
type Session struct {
	id           string
	remoteID     string
	transport    Transport
	registry     *Registry
	policy       *data.ChatPolicy
	writeTimeout time.Duration
	log          *zap.Logger
	limiter      *rateLimiter

	send chan string
	done chan struct{}

	stopped  atomic.Bool
	doneOnce sync.Once

	mu            sync.RWMutex
	nickname      string
	currentRoom   string
	authenticated bool
}

// NewSession wraps an accepted transport in a session. The nickname starts
// as the remote id (ip:port) until the client claims one with /nick.
func NewSession(t Transport, registry *Registry, policy *data.ChatPolicy,
	writeTimeout time.Duration, log *zap.Logger) *Session {

	remoteID := t.RemoteAddr()
	s := &Session{
		id:           uuid.NewString(),
		remoteID:     remoteID,
		transport:    t,
		registry:     registry,
		policy:       policy,
		writeTimeout: writeTimeout,
		log: log.With(
			zap.String("remote", remoteID),
			zap.String("transport", t.Name())),
		limiter:  newRateLimiter(policy.RateLimitBurst, policy.RateLimitPerSec),
		send:     make(chan string, policy.SendQueueCap),
		done:     make(chan struct{}),
		nickname: remoteID,
	}
	return s
}

// Start registers the session, sends the welcome banner, and launches the
// read and write pumps.
func (s *Session) Start() error {
	if err := s.registry.Join(s); err != nil {
		_ = s.transport.Close()
		return err
	}

	s.registry.attach(s.writePump)

	s.Deliver("Welcome to the CherryRecorder Chat Server!")
	s.Deliver("Your temporary ID is: " + s.remoteID)
	s.Deliver("Please set your nickname using /nick <nickname>")
	s.Deliver("Enter /help for a list of commands.")
	s.Deliver("Enter /join <roomname> to join or create a room.")

	s.registry.attach(s.readPump)
	return nil
}

// Deliver queues msg for sending. It never blocks: when the queue is at
// capacity the message is dropped and a warning logged, keeping one slow
// consumer from stalling broadcasts to everyone else.
func (s *Session) Deliver(msg string) {
	if s.Stopped() {
		return
	}
	select {
	case s.send <- msg:
	default:
		s.log.Warn("send queue full, dropping message",
			zap.Int("cap", cap(s.send)))
	}
}

// Stop cancels pending I/O, closes the socket, and removes the session
// from the registry. It is idempotent.
func (s *Session) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.closeDone()
	s.registry.Leave(s)
}

// shutdown tears the session down without the registry round-trip. Called
// from the registry run loop while it drops all state at once.
func (s *Session) shutdown() {
	s.stopped.Store(true)
	s.closeDone()
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Stopped reports whether teardown has begun.
func (s *Session) Stopped() bool { return s.stopped.Load() }

// ID returns the stable internal session id.
func (s *Session) ID() string { return s.id }

// RemoteID returns the peer address identifier (ip:port).
func (s *Session) RemoteID() string { return s.remoteID }

// TransportName names the framing variant ("tcp", "ws", "wss").
func (s *Session) TransportName() string { return s.transport.Name() }

// Nickname returns the current nickname.
func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

// SetNickname updates the local nickname after a successful registration.
func (s *Session) SetNickname(nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nickname = nick
}

// CurrentRoom returns the room the session is in, or "".
func (s *Session) CurrentRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRoom
}

// SetCurrentRoom records the room membership.
func (s *Session) SetCurrentRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRoom = room
}

// IsAuthenticated reports the reserved authentication flag.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// SetAuthenticated sets the reserved authentication flag.
func (s *Session) SetAuthenticated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = v
}

// readPump consumes inbound frames until the peer disconnects or teardown
// begins. Processing errors end only this session, never its peers.
func (s *Session) readPump() {
	defer s.Stop()

	for {
		frame, err := s.transport.ReadFrame()
		if err != nil {
			if isExpectedCloseError(err) {
				s.log.Info("connection closed by peer")
			} else {
				s.log.Warn("read error, closing session", zap.Error(err))
			}
			return
		}
		if frame == "" {
			continue
		}
		if !s.limiter.allow() {
			s.log.Warn("rate limit exceeded, discarding frame")
			continue
		}
		s.handleFrame(frame)
		if s.Stopped() {
			return
		}
	}
}

// writePump is the only writer to the socket. It pops one message at a
// time, so bytes leave in Deliver order with at most one in-flight write.
// On teardown it drains the remaining queue best-effort before closing.
func (s *Session) writePump() {
	defer func() {
		_ = s.transport.Close()
	}()

	var ping <-chan time.Time
	if interval := s.transport.PingInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case msg := <-s.send:
			if err := s.transport.WriteFrame(msg, s.writeTimeout); err != nil {
				if !isExpectedCloseError(err) {
					s.log.Warn("write error, closing session", zap.Error(err))
				}
				s.drainQueue()
				go s.Stop()
				return
			}
		case <-ping:
			if err := s.transport.Ping(s.writeTimeout); err != nil {
				if !isExpectedCloseError(err) {
					s.log.Warn("ping failed, closing session", zap.Error(err))
				}
				go s.Stop()
				return
			}
		case <-s.done:
			s.flushQueue()
			return
		}
	}
}

// flushQueue writes whatever is already queued, stopping at the first
// failure.
func (s *Session) flushQueue() {
	for {
		select {
		case msg := <-s.send:
			if err := s.transport.WriteFrame(msg, s.writeTimeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

// drainQueue discards pending messages after a write failure.
func (s *Session) drainQueue() {
	for {
		select {
		case <-s.send:
		default:
			return
		}
	}
}
