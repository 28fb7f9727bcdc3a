// Terminal client for the CherryRecorder chat server's TCP line protocol.
//
// One goroutine reads "\r\n"-terminated lines from the connection and
// forwards them to the Bubbletea event loop through a channel; the loop
// consumes one line at a time and immediately queues the next read.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("99")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(lipgloss.Color("241")).
			Padding(0, 1)

	sysStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Italic(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pmStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

type serverLineMsg string
type disconnectedMsg struct{}

type model struct {
	conn  net.Conn
	lines chan string

	viewport viewport.Model
	input    textinput.Model
	history  []string
	ready    bool
	gone     bool
}

func newModel(conn net.Conn) model {
	input := textinput.New()
	input.Placeholder = "메시지 또는 /명령어 입력..."
	input.Focus()
	input.CharLimit = 512

	return model{
		conn:  conn,
		lines: make(chan string, 64),
		input: input,
	}
}

// readLoop bridges the TCP connection into the Bubbletea loop.
func (m model) readLoop() {
	scanner := bufio.NewScanner(m.conn)
	for scanner.Scan() {
		m.lines <- strings.TrimSuffix(scanner.Text(), "\r")
	}
	close(m.lines)
}

func (m model) waitForLine() tea.Cmd {
	return func() tea.Msg {
		line, ok := <-m.lines
		if !ok {
			return disconnectedMsg{}
		}
		return serverLineMsg(line)
	}
}

func (m model) Init() tea.Cmd {
	go m.readLoop()
	return m.waitForLine()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 1
		footerHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.refresh()
		return m, nil

	case serverLineMsg:
		m.history = append(m.history, styleLine(string(msg)))
		m.refresh()
		return m, m.waitForLine()

	case disconnectedMsg:
		m.gone = true
		m.history = append(m.history, errorStyle.Render("서버와의 연결이 끊어졌습니다."))
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.conn.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.gone {
				return m, nil
			}
			fmt.Fprintf(m.conn, "%s\r\n", line)
			m.input.Reset()
			if line == "/quit" {
				return m, tea.Quit
			}
			return m, nil
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.history, "\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "연결 중..."
	}
	header := headerStyle.Render("CherryRecorder Chat") + " " +
		hintStyle.Render(m.conn.RemoteAddr().String())
	footer := footerStyle.Render(m.input.View())
	return header + "\n" + m.viewport.View() + "\n" + footer
}

func styleLine(line string) string {
	switch {
	case strings.HasPrefix(line, "Error:"):
		return errorStyle.Render(line)
	case strings.HasPrefix(line, "[PM from "), strings.HasPrefix(line, "* To "):
		return pmStyle.Render(line)
	case strings.HasPrefix(line, "*"), strings.HasPrefix(line, "---"):
		return sysStyle.Render(line)
	default:
		return line
	}
}

func main() {
	addr := flag.String("addr", "localhost:33335", "chat server address (TCP line protocol)")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "연결 실패 %s: %v\n", *addr, err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(conn), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "client error:", err)
		os.Exit(1)
	}
}
