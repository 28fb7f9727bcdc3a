package chat

// Room is a named membership set of sessions. Rooms are created lazily on
// the first join and destroyed when the last member leaves. All mutation
// happens inside the registry run loop, so no lock is needed here.
type Room struct {
	name     string
	capacity int
	members  map[string]*Session // keyed by session id
}

func newRoom(name string, capacity int) *Room {
	return &Room{
		name:     name,
		capacity: capacity,
		members:  make(map[string]*Session, 8),
	}
}

// Name returns the immutable room name.
func (r *Room) Name() string { return r.name }

// ParticipantCount returns the current number of members.
func (r *Room) ParticipantCount() int { return len(r.members) }

// IsFull reports whether the room is at capacity.
func (r *Room) IsFull() bool { return len(r.members) >= r.capacity }

// Empty reports whether the room has no members.
func (r *Room) Empty() bool { return len(r.members) == 0 }

func (r *Room) add(s *Session) {
	r.members[s.ID()] = s
}

func (r *Room) remove(s *Session) bool {
	if _, ok := r.members[s.ID()]; !ok {
		return false
	}
	delete(r.members, s.ID())
	return true
}

func (r *Room) contains(s *Session) bool {
	_, ok := r.members[s.ID()]
	return ok
}

// Sessions returns a snapshot of the current members.
func (r *Room) Sessions() []*Session {
	out := make([]*Session, 0, len(r.members))
	for _, s := range r.members {
		out = append(out, s)
	}
	return out
}

// broadcast sends msg to every member except sender. A nil sender reaches
// every member.
func (r *Room) broadcast(msg string, sender *Session) {
	for _, member := range r.members {
		if sender != nil && member.ID() == sender.ID() {
			continue
		}
		member.Deliver(msg)
	}
}
