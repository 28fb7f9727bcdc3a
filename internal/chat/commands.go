package chat

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// helpText is the fixed /help response. Clients pattern-match on these
// lines; do not reword them.
var helpText = []string{
	"--- 도움말 ---",
	"/nick <닉네임> - 닉네임 변경",
	"/join <방이름> - 방 입장/생성",
	"/leave - 현재 방 퇴장",
	"/users - 현재 접속자 목록 보기",
	"/pm <닉네임> <메시지> - 개인 메시지 (WebSocket 전용)",
	"/quit - 채팅 종료",
	"/help - 도움말 표시",
	"-------------",
}

// handleFrame treats a frame starting with '/' as a command and anything
// else as a chat message routed to the current room or globally.
func (s *Session) handleFrame(frame string) {
	s.log.Debug("frame received", zap.String("frame", frame))

	if strings.HasPrefix(frame, "/") {
		s.handleCommand(frame)
		return
	}
	s.handleChat(frame)
}

func (s *Session) handleCommand(line string) {
	cmd, arg := splitCommand(line)

	switch cmd {
	case "/nick":
		s.cmdNick(arg)
	case "/join":
		s.cmdJoin(arg)
	case "/leave":
		s.cmdLeave()
	case "/users":
		s.cmdUsers()
	case "/pm":
		if s.transport.SupportsPrivateMessages() {
			s.cmdPrivateMessage(arg)
		} else {
			s.cmdUnknown(cmd)
		}
	case "/quit":
		s.Deliver("* 연결을 종료합니다...")
		s.Stop()
	case "/help":
		for _, line := range helpText {
			s.Deliver(line)
		}
	default:
		s.cmdUnknown(cmd)
	}
}

func (s *Session) cmdNick(arg string) {
	nick := arg
	switch {
	case nick == "":
		s.Deliver("Error: 닉네임은 비어있을 수 없습니다.")
		return
	case containsWhitespace(nick):
		s.Deliver("Error: 닉네임에 공백 문자를 포함할 수 없습니다.")
		return
	case len([]rune(nick)) > s.policy.MaxNicknameLen:
		s.Deliver(fmt.Sprintf("Error: 닉네임은 %d자를 초과할 수 없습니다.", s.policy.MaxNicknameLen))
		return
	}

	if s.policy.IsReserved(nick) {
		s.Deliver(fmt.Sprintf("Error: 닉네임 '%s'은(는) 이미 사용 중이거나 유효하지 않습니다.", nick))
		return
	}

	previous := s.Nickname()
	if err := s.registry.TryRegisterNickname(nick, s); err != nil {
		s.Deliver(fmt.Sprintf("Error: 닉네임 '%s'은(는) 이미 사용 중이거나 유효하지 않습니다.", nick))
		return
	}

	s.SetNickname(nick)
	s.Deliver(fmt.Sprintf("* 닉네임이 '%s'(으)로 변경되었습니다.", nick))

	// The first claimed nickname announces the user; later changes
	// announce the rename.
	if previous == s.remoteID {
		s.registry.Broadcast(fmt.Sprintf("* 사용자 '%s'님이 입장했습니다.", nick), s)
	} else if previous != nick {
		s.registry.Broadcast(
			fmt.Sprintf("* 사용자 '%s'의 닉네임이 '%s'(으)로 변경되었습니다.", previous, nick), s)
	}
}

func (s *Session) cmdJoin(arg string) {
	room := arg
	switch {
	case room == "":
		s.Deliver("Error: 방 이름은 비어있을 수 없습니다.")
		return
	case containsWhitespace(room):
		s.Deliver("Error: 방 이름에 공백 문자를 포함할 수 없습니다.")
		return
	case len([]rune(room)) > s.policy.MaxRoomNameLen:
		s.Deliver(fmt.Sprintf("Error: 방 이름은 %d자를 초과할 수 없습니다.", s.policy.MaxRoomNameLen))
		return
	}

	if room == s.CurrentRoom() {
		s.Deliver(fmt.Sprintf("* 이미 '%s' 방에 있습니다.", room))
		return
	}

	if err := s.registry.JoinRoom(room, s); err != nil {
		if errors.Is(err, ErrRoomFull) {
			s.Deliver(fmt.Sprintf("Error: 방 '%s'이(가) 꽉 찼습니다.", room))
		} else {
			s.Deliver(fmt.Sprintf("Error: '%s' 방 입장에 실패했습니다.", room))
		}
	}
}

func (s *Session) cmdLeave() {
	room := s.CurrentRoom()
	if room == "" {
		s.Deliver("Error: 현재 어떤 방에도 없습니다.")
		return
	}
	if err := s.registry.LeaveRoom(room, s); err != nil {
		s.Deliver(fmt.Sprintf("Error: '%s' 방 퇴장에 실패했습니다.", room))
	}
}

func (s *Session) cmdUsers() {
	users := s.registry.UserList()
	reply := fmt.Sprintf("* 현재 접속 중인 사용자 (%d):", len(users))
	self := s.Nickname()
	for _, user := range users {
		line := "  - " + user
		if user == self {
			line += " (You)"
		}
		reply += "\r\n" + line
	}
	s.Deliver(reply)
}

func (s *Session) cmdPrivateMessage(arg string) {
	target, message := splitCommand(arg)
	if target == "" || message == "" {
		s.Deliver("Error: 사용법: /pm <닉네임> <메시지>")
		return
	}
	if err := s.registry.SendPrivateMessage(message, s, target); err != nil {
		s.Deliver(fmt.Sprintf("Error: 사용자 '%s'을(를) 찾을 수 없거나 오프라인 상태입니다.", target))
	}
}

func (s *Session) cmdUnknown(cmd string) {
	s.Deliver(fmt.Sprintf("Error: 알 수 없는 명령어 '%s'. '/help'를 입력하여 도움말을 확인하세요.", cmd))
}

func (s *Session) handleChat(text string) {
	if room := s.CurrentRoom(); room != "" {
		formatted := fmt.Sprintf("[%s @ %s]: %s", s.Nickname(), room, text)
		if err := s.registry.BroadcastToRoom(room, formatted, s); err != nil {
			s.Deliver("Error: 메시지를 전송할 수 없습니다 (서버 오류).")
		}
		return
	}
	s.registry.Broadcast(fmt.Sprintf("[%s]: %s", s.Nickname(), text), s)
}

// splitCommand separates the first space-delimited token from the rest of
// the line. Only a space separates tokens; tabs stay inside the token.
func splitCommand(line string) (head, rest string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	head = parts[0]
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return head, rest
}

func containsWhitespace(s string) bool {
	return strings.ContainsAny(s, " \t\n\r\f\v")
}
