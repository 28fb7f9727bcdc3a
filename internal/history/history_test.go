package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dir, true, zap.NewNop()), dir
}

// TestDirectoryLayout verifies the three stream directories are created on
// construction.
func TestDirectoryLayout(t *testing.T) {
	_, dir := newStore(t)
	for _, sub := range []string{"global", "private", "rooms"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Errorf("missing %s directory: %v", sub, err)
		}
	}
}

// TestGlobalEntryFormat verifies the "<timestamp> [<sender>]: <message>"
// entry format and the system fallback for empty senders.
func TestGlobalEntryFormat(t *testing.T) {
	s, dir := newStore(t)
	s.LogGlobal("hello world", "alice")
	s.LogGlobal("server notice", "")

	raw, err := os.ReadFile(filepath.Join(dir, "global", "history.txt"))
	if err != nil {
		t.Fatalf("read global history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.HasSuffix(lines[0], " [alice]: hello world") {
		t.Errorf("entry %q has wrong format", lines[0])
	}
	if !strings.Contains(lines[1], "[system]: server notice") {
		t.Errorf("empty sender not recorded as system: %q", lines[1])
	}
}

// TestPrivatePairFile verifies that (A,B) and (B,A) share one file keyed
// by the lexicographic pair, and that reads work in either order.
func TestPrivatePairFile(t *testing.T) {
	s, dir := newStore(t)
	s.LogPrivate("hi bob", "alice", "bob")
	s.LogPrivate("hi alice", "bob", "alice")

	path := filepath.Join(dir, "private", "alice_bob.txt")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("pair file missing: %v", err)
	}
	if !strings.Contains(string(raw), "[alice -> bob]: hi bob") {
		t.Errorf("missing first direction in %q", raw)
	}
	if !strings.Contains(string(raw), "[bob -> alice]: hi alice") {
		t.Errorf("missing second direction in %q", raw)
	}

	forward := s.PrivateHistory("alice", "bob", 0)
	backward := s.PrivateHistory("bob", "alice", 0)
	if len(forward) != 2 || len(backward) != 2 {
		t.Fatalf("pair reads = %d/%d lines, want 2/2", len(forward), len(backward))
	}
}

// TestRoomStream verifies per-room files.
func TestRoomStream(t *testing.T) {
	s, _ := newStore(t)
	s.LogRoom("lounge", "[u @ lounge]: hi", "u")
	s.LogRoom("other", "[v @ other]: yo", "v")

	lounge := s.RoomHistory("lounge", 0)
	if len(lounge) != 1 || !strings.Contains(lounge[0], "[u]: [u @ lounge]: hi") {
		t.Fatalf("lounge history = %v", lounge)
	}
	if other := s.RoomHistory("other", 0); len(other) != 1 {
		t.Fatalf("other history = %v", other)
	}
}

// TestTailRead verifies limit semantics: last N lines in natural order,
// everything when N is zero, empty result for missing files.
func TestTailRead(t *testing.T) {
	s, _ := newStore(t)
	for _, msg := range []string{"one", "two", "three", "four", "five"} {
		s.LogGlobal(msg, "u")
	}

	last2 := s.GlobalHistory(2)
	if len(last2) != 2 {
		t.Fatalf("tail(2) = %d lines", len(last2))
	}
	if !strings.HasSuffix(last2[0], "[u]: four") || !strings.HasSuffix(last2[1], "[u]: five") {
		t.Errorf("tail(2) = %v, want the last two in natural order", last2)
	}

	if all := s.GlobalHistory(0); len(all) != 5 {
		t.Errorf("tail(0) = %d lines, want all 5", len(all))
	}

	if missing := s.RoomHistory("nope", 3); len(missing) != 0 {
		t.Errorf("missing file returned %v", missing)
	}
}

// TestDisabledStoreWritesNothing verifies the enabled flag gates all
// writes and reads.
func TestDisabledStoreWritesNothing(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false, zap.NewNop())
	s.LogGlobal("dropped", "u")

	if _, err := os.Stat(filepath.Join(dir, "global", "history.txt")); !os.IsNotExist(err) {
		t.Errorf("disabled store created a history file")
	}
	if got := s.GlobalHistory(0); len(got) != 0 {
		t.Errorf("disabled store returned history %v", got)
	}

	s.SetEnabled(true)
	if !s.Enabled() {
		t.Error("SetEnabled(true) did not stick")
	}
}

// TestNameSanitization verifies path separators in names cannot escape
// the history directory.
func TestNameSanitization(t *testing.T) {
	s, dir := newStore(t)
	s.LogRoom("a/b", "msg", "u")

	if _, err := os.Stat(filepath.Join(dir, "rooms", "a_b.txt")); err != nil {
		t.Errorf("sanitized room file missing: %v", err)
	}
}
