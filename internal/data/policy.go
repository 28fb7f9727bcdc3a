// Package data loads tunable chat policy tables from YAML files, with
// compiled-in defaults when no file is supplied.
package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChatPolicy holds the validation limits and capacities enforced by the
// chat core. Zero values in a loaded file fall back to the defaults.
type ChatPolicy struct {
	ReservedNicknames []string `yaml:"reserved_nicknames"`
	MaxNicknameLen    int      `yaml:"max_nickname_len"`
	MaxRoomNameLen    int      `yaml:"max_room_name_len"`
	RoomCapacity      int      `yaml:"room_capacity"`
	SendQueueCap      int      `yaml:"send_queue_cap"`
	MaxMessageSize    int64    `yaml:"max_message_size"`
	RateLimitBurst    int      `yaml:"rate_limit_burst"`
	RateLimitPerSec   int      `yaml:"rate_limit_per_sec"`
}

// DefaultChatPolicy returns the built-in policy.
func DefaultChatPolicy() *ChatPolicy {
	return &ChatPolicy{
		ReservedNicknames: []string{"Server", "system"},
		MaxNicknameLen:    20,
		MaxRoomNameLen:    30,
		RoomCapacity:      100,
		SendQueueCap:      100,
		MaxMessageSize:    1 << 20,
		RateLimitBurst:    20,
		RateLimitPerSec:   10,
	}
}

// LoadChatPolicy reads a policy file and overlays it on the defaults.
// An empty path returns the defaults unchanged.
func LoadChatPolicy(path string) (*ChatPolicy, error) {
	p := DefaultChatPolicy()
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chat policy %s: %w", path, err)
	}
	var file ChatPolicy
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse chat policy %s: %w", path, err)
	}

	if len(file.ReservedNicknames) > 0 {
		p.ReservedNicknames = file.ReservedNicknames
	}
	if file.MaxNicknameLen > 0 {
		p.MaxNicknameLen = file.MaxNicknameLen
	}
	if file.MaxRoomNameLen > 0 {
		p.MaxRoomNameLen = file.MaxRoomNameLen
	}
	if file.RoomCapacity > 0 {
		p.RoomCapacity = file.RoomCapacity
	}
	if file.SendQueueCap > 0 {
		p.SendQueueCap = file.SendQueueCap
	}
	if file.MaxMessageSize > 0 {
		p.MaxMessageSize = file.MaxMessageSize
	}
	if file.RateLimitBurst > 0 {
		p.RateLimitBurst = file.RateLimitBurst
	}
	if file.RateLimitPerSec > 0 {
		p.RateLimitPerSec = file.RateLimitPerSec
	}
	return p, nil
}

// IsReserved reports whether nick is one of the reserved system names.
func (p *ChatPolicy) IsReserved(nick string) bool {
	for _, r := range p.ReservedNicknames {
		if nick == r {
			return true
		}
	}
	return false
}
