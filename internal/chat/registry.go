package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cherryrecorder/cherryrecorder-server/internal/data"
	"github.com/cherryrecorder/cherryrecorder-server/internal/history"
)

// Registry errors surfaced to the initiating session. They never cross to
// other sessions.
var (
	ErrNicknameTaken     = errors.New("chat: nickname already in use")
	ErrRoomFull          = errors.New("chat: room is full")
	ErrRoomMissing       = errors.New("chat: room not found")
	ErrNotInRoom         = errors.New("chat: session not in room")
	ErrRecipientNotFound = errors.New("chat: recipient not found")
	ErrRegistryClosed    = errors.New("chat: registry is shut down")
	ErrNotImplemented    = errors.New("chat: operation not implemented")
)

// Registry is the single source of truth for chat membership, naming, and
// room topology. It runs as an actor: one goroutine consumes operations
// from a mailbox, so the session set, nickname index, and room map are
// only ever touched from that goroutine. Fan-out snapshots recipients
// inside the loop and delivers through each session's own bounded queue,
// which never blocks, so a slow session cannot stall the registry.
type Registry struct {
	ops  chan func()
	quit chan struct{}
	done chan struct{}

	sessions  map[string]*Session // session id -> session
	nicknames map[string]string   // nickname -> session id
	rooms     map[string]*Room

	policy *data.ChatPolicy
	hist   *history.Store
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewRegistry creates a registry. Run must be called before sessions attach.
func NewRegistry(policy *data.ChatPolicy, hist *history.Store, log *zap.Logger) *Registry {
	return &Registry{
		ops:       make(chan func(), 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		sessions:  make(map[string]*Session),
		nicknames: make(map[string]string),
		rooms:     make(map[string]*Room),
		policy:    policy,
		hist:      hist,
		log:       log,
	}
}

// Run processes registry operations until Shutdown. It must be launched as
// a goroutine.
func (r *Registry) Run() {
	defer close(r.done)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-r.quit:
			r.shutdownSessions()
			return
		}
	}
}

// call posts fn to the run loop and waits for it to execute. Operations
// posted after shutdown return ErrRegistryClosed.
func (r *Registry) call(fn func()) error {
	executed := make(chan struct{})
	wrapped := func() {
		fn()
		close(executed)
	}
	select {
	case r.ops <- wrapped:
	case <-r.quit:
		return ErrRegistryClosed
	}
	select {
	case <-executed:
		return nil
	case <-r.quit:
		return ErrRegistryClosed
	}
}

// Join announces a new session. No notice is broadcast until the session
// sets its first nickname.
func (r *Registry) Join(s *Session) error {
	return r.call(func() {
		r.sessions[s.ID()] = s
		r.log.Info("session joined",
			zap.String("remote", s.RemoteID()),
			zap.String("transport", s.TransportName()),
			zap.Int("total", len(r.sessions)))
	})
}

// Leave removes a session from every shared structure. It never fails; a
// leave notice is broadcast only when the session had set a nickname.
func (r *Registry) Leave(s *Session) {
	_ = r.call(func() {
		if _, ok := r.sessions[s.ID()]; !ok {
			return
		}

		if roomName := s.CurrentRoom(); roomName != "" {
			r.leaveRoomLocked(roomName, s)
		}

		nick := s.Nickname()
		if id, ok := r.nicknames[nick]; ok && id == s.ID() {
			delete(r.nicknames, nick)
		}
		delete(r.sessions, s.ID())

		r.log.Info("session left",
			zap.String("nickname", nick),
			zap.String("remote", s.RemoteID()),
			zap.Int("total", len(r.sessions)))

		if nick != "" && nick != s.RemoteID() {
			r.broadcastLocked(fmt.Sprintf("* 사용자 '%s'님이 퇴장했습니다.", nick), nil)
		}
	})
}

// TryRegisterNickname attempts to claim nick for s. Claiming a nickname the
// session already holds succeeds idempotently; entries whose session is no
// longer live are evicted and reclaimed.
func (r *Registry) TryRegisterNickname(nick string, s *Session) error {
	var opErr error
	callErr := r.call(func() {
		if id, ok := r.nicknames[nick]; ok {
			switch {
			case id == s.ID():
				return // idempotent re-registration
			case r.isLive(id):
				opErr = ErrNicknameTaken
				return
			default:
				delete(r.nicknames, nick) // stale entry, reclaim
			}
		}

		// Drop the session's previous nickname entry if it still points here.
		old := s.Nickname()
		if old != "" && old != nick {
			if id, ok := r.nicknames[old]; ok && id == s.ID() {
				delete(r.nicknames, old)
			}
		}
		r.nicknames[nick] = s.ID()
		r.log.Info("nickname registered",
			zap.String("nickname", nick), zap.String("remote", s.RemoteID()))
	})
	if callErr != nil {
		return callErr
	}
	return opErr
}

// UnregisterNickname releases nick. Absent entries are a silent no-op.
func (r *Registry) UnregisterNickname(nick string) {
	_ = r.call(func() {
		delete(r.nicknames, nick)
	})
}

// FindSessionByNickname returns the live session holding nick, or nil. A
// stale entry is evicted.
func (r *Registry) FindSessionByNickname(nick string) *Session {
	var found *Session
	_ = r.call(func() {
		if id, ok := r.nicknames[nick]; ok {
			if r.isLive(id) {
				found = r.sessions[id]
			} else {
				delete(r.nicknames, nick)
			}
		}
	})
	return found
}

// UserList returns a snapshot of the live nicknames, evicting stale
// entries along the way.
func (r *Registry) UserList() []string {
	var users []string
	_ = r.call(func() {
		for nick, id := range r.nicknames {
			if !r.isLive(id) {
				delete(r.nicknames, nick)
				continue
			}
			users = append(users, nick)
		}
	})
	return users
}

// JoinRoom moves s into the named room, leaving its current room first.
// The room is created when missing; the joiner receives a confirmation
// with the member list and peers receive a join notice.
func (r *Registry) JoinRoom(roomName string, s *Session) error {
	var opErr error
	callErr := r.call(func() {
		if old := s.CurrentRoom(); old != "" && old != roomName {
			r.leaveRoomLocked(old, s)
		}

		room, ok := r.rooms[roomName]
		if !ok {
			room = newRoom(roomName, r.policy.RoomCapacity)
			r.rooms[roomName] = room
			r.log.Info("room created", zap.String("room", roomName))
		}
		if room.contains(s) {
			return
		}
		if room.IsFull() {
			if room.Empty() {
				delete(r.rooms, roomName)
			}
			opErr = ErrRoomFull
			return
		}

		room.add(s)
		s.SetCurrentRoom(roomName)

		confirm := fmt.Sprintf("* '%s' 방에 입장했습니다.", roomName)
		members := room.Sessions()
		confirm += fmt.Sprintf("\r\n* 현재 멤버 (%d): %s", len(members), memberList(members, s))
		s.Deliver(confirm)

		room.broadcast(fmt.Sprintf("* 사용자 '%s'님이 %s 방에 입장했습니다.", s.Nickname(), roomName), s)
		r.log.Info("user joined room",
			zap.String("nickname", s.Nickname()), zap.String("room", roomName),
			zap.Int("members", room.ParticipantCount()))
	})
	if callErr != nil {
		return callErr
	}
	return opErr
}

// LeaveRoom removes s from the named room. It fails when the room is
// absent or s is not a member.
func (r *Registry) LeaveRoom(roomName string, s *Session) error {
	var opErr error
	callErr := r.call(func() {
		room, ok := r.rooms[roomName]
		if !ok {
			opErr = ErrRoomMissing
			return
		}
		if !room.contains(s) {
			opErr = ErrNotInRoom
			return
		}
		r.leaveRoomLocked(roomName, s)
		s.Deliver(fmt.Sprintf("* '%s' 방에서 퇴장했습니다.", roomName))
	})
	if callErr != nil {
		return callErr
	}
	return opErr
}

// leaveRoomLocked removes s from roomName, notifies the remaining members,
// and destroys the room when it becomes empty. Runs inside the run loop.
func (r *Registry) leaveRoomLocked(roomName string, s *Session) {
	room, ok := r.rooms[roomName]
	if !ok {
		s.SetCurrentRoom("")
		return
	}
	room.broadcast(fmt.Sprintf("* 사용자 '%s'님이 %s 방에 퇴장했습니다.", s.Nickname(), roomName), s)
	room.remove(s)
	s.SetCurrentRoom("")
	r.log.Info("user left room",
		zap.String("nickname", s.Nickname()), zap.String("room", roomName))
	if room.Empty() {
		delete(r.rooms, roomName)
		r.log.Info("room destroyed", zap.String("room", roomName))
	}
}

// Broadcast sends msg to every session except sender. A nil sender is a
// system broadcast that reaches everyone.
func (r *Registry) Broadcast(msg string, sender *Session) {
	_ = r.call(func() {
		r.broadcastLocked(msg, sender)
	})
}

func (r *Registry) broadcastLocked(msg string, sender *Session) {
	for _, s := range r.sessions {
		if sender != nil && s.ID() == sender.ID() {
			continue
		}
		s.Deliver(msg)
	}
	senderNick := ""
	if sender != nil {
		senderNick = sender.Nickname()
	}
	r.hist.LogGlobal(msg, senderNick)
}

// BroadcastToRoom sends msg to every member of roomName except sender.
func (r *Registry) BroadcastToRoom(roomName, msg string, sender *Session) error {
	var opErr error
	callErr := r.call(func() {
		room, ok := r.rooms[roomName]
		if !ok {
			opErr = ErrRoomMissing
			return
		}
		room.broadcast(msg, sender)
		senderNick := ""
		if sender != nil {
			senderNick = sender.Nickname()
		}
		r.hist.LogRoom(roomName, msg, senderNick)
	})
	if callErr != nil {
		return callErr
	}
	return opErr
}

// SendPrivateMessage delivers msg to the session holding receiverNick and
// a confirmation echo to the sender.
func (r *Registry) SendPrivateMessage(msg string, sender *Session, receiverNick string) error {
	var opErr error
	callErr := r.call(func() {
		id, ok := r.nicknames[receiverNick]
		if !ok || !r.isLive(id) {
			if ok {
				delete(r.nicknames, receiverNick)
			}
			opErr = ErrRecipientNotFound
			return
		}
		receiver := r.sessions[id]
		receiver.Deliver(fmt.Sprintf("[PM from %s]: %s", sender.Nickname(), msg))
		sender.Deliver(fmt.Sprintf("* To %s: %s", receiverNick, msg))
		r.hist.LogPrivate(msg, sender.Nickname(), receiverNick)
		r.log.Info("private message sent",
			zap.String("from", sender.Nickname()), zap.String("to", receiverNick))
	})
	if callErr != nil {
		return callErr
	}
	return opErr
}

// Kick is an administration extension point; forcible disconnects are not
// implemented.
func (r *Registry) Kick(string) error { return ErrNotImplemented }

// SessionCount returns the size of the session set.
func (r *Registry) SessionCount() int {
	count := 0
	_ = r.call(func() { count = len(r.sessions) })
	return count
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	count := 0
	_ = r.call(func() { count = len(r.rooms) })
	return count
}

func (r *Registry) isLive(sessionID string) bool {
	s, ok := r.sessions[sessionID]
	return ok && !s.Stopped()
}

// attach tracks a session pump goroutine for shutdown accounting.
func (r *Registry) attach(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// shutdownSessions closes every live session. Runs in the run loop as its
// final act; sessions skip the Leave round-trip because the maps are being
// dropped wholesale.
func (r *Registry) shutdownSessions() {
	r.log.Info("closing all chat sessions", zap.Int("count", len(r.sessions)))
	for _, s := range r.sessions {
		s.shutdown()
	}
	r.sessions = make(map[string]*Session)
	r.nicknames = make(map[string]string)
	r.rooms = make(map[string]*Room)
}

// Shutdown stops the run loop, closes all sessions, and waits for their
// pump goroutines to finish or the timeout to expire.
func (r *Registry) Shutdown(ctx context.Context, timeout time.Duration) error {
	close(r.quit)
	<-r.done

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		r.log.Info("registry shutdown complete")
		return nil
	case <-time.After(timeout):
		r.log.Warn("registry shutdown timed out; some session goroutines may remain")
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func memberList(members []*Session, self *Session) string {
	out := ""
	for i, m := range members {
		if i > 0 {
			out += ", "
		}
		out += m.Nickname()
		if m.ID() == self.ID() {
			out += " (You)"
		}
	}
	return out
}
