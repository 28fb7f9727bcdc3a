// Origin validation for WebSocket handshakes.
package chat

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

type originChecker struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *zap.Logger
}

func newOriginChecker(origins []string, log *zap.Logger) *originChecker {
	c := &originChecker{allowed: make(map[string]struct{}), log: log}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			c.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		c.allowed[normalized] = struct{}{}
	}
	return c
}

func (c *originChecker) check(r *http.Request) bool {
	if c.allowAll {
		return true
	}

	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		// Non-browser clients send no Origin header; only browsers need
		// the cross-origin gate.
		return true
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		c.log.Warn("blocked WebSocket connection with malformed origin",
			zap.String("origin", originHeader))
		return false
	}
	if _, exists := c.allowed[normalized]; exists {
		return true
	}
	c.log.Warn("blocked WebSocket connection from disallowed origin",
		zap.String("origin", originHeader))
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
