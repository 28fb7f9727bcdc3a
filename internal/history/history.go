// Package history provides the append-only on-disk message history: one
// global stream, one stream per room, and one stream per private-message
// pair. History is a low-rate side channel, so a single mutex serializes
// all writes.
package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// Store writes and reads the three history streams below a base directory:
//
//	<dir>/global/history.txt
//	<dir>/rooms/<room>.txt
//	<dir>/private/<a>_<b>.txt   (a, b in lexicographic order)
type Store struct {
	mu      sync.Mutex
	dir     string
	enabled bool
	log     *zap.Logger
}

// New creates the history directory tree when enabled is true; a disabled
// store creates nothing. A store that fails to initialize is returned
// disabled rather than failing the server.
func New(dir string, enabled bool, log *zap.Logger) *Store {
	s := &Store{dir: dir, enabled: enabled, log: log}
	if !enabled {
		return s
	}
	for _, sub := range []string{"global", "private", "rooms"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			log.Error("history init failed, disabling history",
				zap.String("dir", dir), zap.Error(err))
			s.enabled = false
			return s
		}
	}
	log.Info("message history initialized", zap.String("dir", dir))
	return s
}

// SetEnabled toggles all history writes and reads.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Enabled reports whether history is currently recorded.
func (s *Store) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// LogGlobal appends a message to the global stream.
func (s *Store) LogGlobal(message, sender string) {
	if sender == "" {
		sender = "system"
	}
	entry := fmt.Sprintf("%s [%s]: %s", timestamp(), sender, message)
	s.appendLine(filepath.Join(s.dir, "global", "history.txt"), entry)
}

// LogRoom appends a message to a room stream.
func (s *Store) LogRoom(room, message, sender string) {
	if sender == "" {
		sender = "system"
	}
	entry := fmt.Sprintf("%s [%s]: %s", timestamp(), sender, message)
	s.appendLine(filepath.Join(s.dir, "rooms", sanitize(room)+".txt"), entry)
}

// LogPrivate appends a private message to the pair stream shared by sender
// and receiver, regardless of direction.
func (s *Store) LogPrivate(message, sender, receiver string) {
	entry := fmt.Sprintf("%s [%s -> %s]: %s", timestamp(), sender, receiver, message)
	s.appendLine(pairFile(s.dir, sender, receiver), entry)
}

// GlobalHistory returns the last limit lines of the global stream, or all
// lines when limit is zero.
func (s *Store) GlobalHistory(limit int) []string {
	return s.tail(filepath.Join(s.dir, "global", "history.txt"), limit)
}

// RoomHistory returns the last limit lines of a room stream.
func (s *Store) RoomHistory(room string, limit int) []string {
	return s.tail(filepath.Join(s.dir, "rooms", sanitize(room)+".txt"), limit)
}

// PrivateHistory returns the last limit lines of the pair stream for the
// two users, in either argument order.
func (s *Store) PrivateHistory(user1, user2 string, limit int) []string {
	return s.tail(pairFile(s.dir, user1, user2), limit)
}

func (s *Store) appendLine(path, entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Error("history append failed", zap.String("file", path), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, entry); err != nil {
		s.log.Error("history write failed", zap.String("file", path), zap.Error(err))
	}
}

// tail reads the last limit non-blank lines of a file in natural order.
// A ring buffer keeps memory bounded to the requested window even for
// large files. Missing files yield an empty slice.
func (s *Store) tail(path string, limit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("history read failed", zap.String("file", path), zap.Error(err))
		}
		return nil
	}
	defer f.Close()

	q := queue.New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		q.Add(line)
		if limit > 0 && q.Length() > limit {
			q.Remove()
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Error("history scan failed", zap.String("file", path), zap.Error(err))
	}

	lines := make([]string, 0, q.Length())
	for q.Length() > 0 {
		lines = append(lines, q.Remove().(string))
	}
	return lines
}

func pairFile(dir, user1, user2 string) string {
	a, b := sanitize(user1), sanitize(user2)
	if a > b {
		a, b = b, a
	}
	return filepath.Join(dir, "private", a+"_"+b+".txt")
}

// sanitize keeps names usable as file names. Validated nicknames and room
// names contain no whitespace but may still contain path separators.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	return strings.ReplaceAll(name, string(os.PathSeparator), "_")
}

func timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
