package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cherryrecorder/cherryrecorder-server/internal/data"
	"github.com/cherryrecorder/cherryrecorder-server/internal/history"
)

// startWSServer runs the WebSocket chat endpoint on an httptest server and
// returns the ws:// URL.
func startWSServer(t *testing.T) string {
	t.Helper()
	policy := data.DefaultChatPolicy()
	log := zap.NewNop()
	hist := history.New(t.TempDir(), false, log)
	r := NewRegistry(policy, hist, log)
	go r.Run()

	ws := NewWSServer(r, policy, []string{"*"}, 5*time.Second, false, log)
	srv := httptest.NewServer(ws.Handler())

	t.Cleanup(func() {
		srv.Close()
		_ = r.Shutdown(context.Background(), 2*time.Second)
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, url string) *wsClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	if got := resp.Header.Get("Server"); got != "CherryRecorder/1.0" {
		t.Fatalf("handshake Server header = %q, want CherryRecorder/1.0", got)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(text string) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.t.Fatalf("ws send %q failed: %v", text, err)
	}
}

func (c *wsClient) readFrame(timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("ws read failed: %v", err)
	}
	frame := string(payload)
	if !strings.HasSuffix(frame, "\r\n") {
		c.t.Fatalf("frame %q is not terminated by CRLF", frame)
	}
	return strings.TrimSuffix(frame, "\r\n")
}

func (c *wsClient) expectContains(substr string, timeout time.Duration) string {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame := c.readFrame(time.Until(deadline))
		if strings.Contains(frame, substr) {
			return frame
		}
	}
	c.t.Fatalf("no frame containing %q within %v", substr, timeout)
	return ""
}

func (c *wsClient) skipWelcome() {
	c.t.Helper()
	for i := 0; i < 5; i++ {
		c.readFrame(2 * time.Second)
	}
}

// TestWSWelcomeBanner verifies the welcome banner arrives over WebSocket
// exactly as over the line transport.
func TestWSWelcomeBanner(t *testing.T) {
	url := startWSServer(t)
	c := dialWS(t, url)

	first := c.readFrame(2 * time.Second)
	if first != "Welcome to the CherryRecorder Chat Server!" {
		t.Fatalf("first welcome frame = %q", first)
	}
	second := c.readFrame(2 * time.Second)
	if !strings.HasPrefix(second, "Your temporary ID is: ") {
		t.Fatalf("second welcome frame = %q", second)
	}
	for i := 0; i < 3; i++ {
		c.readFrame(2 * time.Second)
	}
}

// TestWSChatBetweenClients verifies global chat across two WebSocket
// sessions.
func TestWSChatBetweenClients(t *testing.T) {
	url := startWSServer(t)
	c1 := dialWS(t, url)
	c2 := dialWS(t, url)
	c1.skipWelcome()
	c2.skipWelcome()

	c1.send("/nick wsuser1")
	c1.expectContains("* 닉네임이 'wsuser1'(으)로 변경되었습니다.", 2*time.Second)
	c2.send("/nick wsuser2")
	c2.expectContains("* 닉네임이 'wsuser2'(으)로 변경되었습니다.", 2*time.Second)

	c1.send("hello over websocket")
	got := c2.expectContains("hello over websocket", 2*time.Second)
	if got != "[wsuser1]: hello over websocket" {
		t.Fatalf("ws chat frame = %q", got)
	}
}

// TestWSPrivateMessage verifies /pm delivery and the sender confirmation
// echo, which are available on the WebSocket variants.
func TestWSPrivateMessage(t *testing.T) {
	url := startWSServer(t)
	alice := dialWS(t, url)
	bob := dialWS(t, url)
	alice.skipWelcome()
	bob.skipWelcome()

	alice.send("/nick Alice")
	alice.expectContains("* 닉네임이 'Alice'(으)로 변경되었습니다.", 2*time.Second)
	bob.send("/nick Bob")
	bob.expectContains("* 닉네임이 'Bob'(으)로 변경되었습니다.", 2*time.Second)

	alice.send("/pm Bob secret hello")
	if got := bob.expectContains("PM from", 2*time.Second); got != "[PM from Alice]: secret hello" {
		t.Fatalf("pm frame = %q", got)
	}
	if got := alice.expectContains("* To Bob", 2*time.Second); got != "* To Bob: secret hello" {
		t.Fatalf("pm confirmation = %q", got)
	}

	alice.send("/pm Nobody hi")
	alice.expectContains("Error: 사용자 'Nobody'을(를) 찾을 수 없거나 오프라인 상태입니다.", 2*time.Second)
}

// TestWSRejectsNonGet verifies the upgrade endpoint only accepts GET.
func TestWSRejectsNonGet(t *testing.T) {
	url := startWSServer(t)
	httpURL := "http" + strings.TrimPrefix(url, "ws")

	resp, err := http.Post(httpURL, "text/plain", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST to ws endpoint = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}
