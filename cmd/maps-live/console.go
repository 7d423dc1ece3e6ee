package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/vai-maps-live/pkg/transcript"
)

type commandKind int

const (
	cmdChat commandKind = iota
	cmdLocation
	cmdMute
	cmdUnmute
	cmdSpeaker
	cmdConnect
	cmdDisconnect
	cmdExport
	cmdHelp
	cmdQuit
)

type command struct {
	kind     commandKind
	text     string
	lat, lng float64
	on       bool
}

var errEmptyLine = errors.New("empty line")

const consoleHelp = `Type a message to chat, or:
  /location <lat> <lng>   share your position and ask what is nearby
  /mute, /unmute          stop or resume the microphone
  /speaker on|off         mute or unmute the model's voice
  /connect, /disconnect   start a fresh conversation or hang up
  /export                 write the transcript to a JSON file
  /quit                   leave`

// parseCommand turns one console line into a command. Lines that do not start
// with a slash are chat messages.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmptyLine
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdChat, text: line}, nil
	}
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "/location", "/loc":
		if len(args) == 1 && strings.Contains(args[0], ",") {
			args = strings.SplitN(args[0], ",", 2)
		}
		if len(args) != 2 {
			return command{}, fmt.Errorf("usage: /location <lat> <lng>")
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
		if err != nil || lat < -90 || lat > 90 {
			return command{}, fmt.Errorf("invalid latitude %q", args[0])
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(args[1]), 64)
		if err != nil || lng < -180 || lng > 180 {
			return command{}, fmt.Errorf("invalid longitude %q", args[1])
		}
		return command{kind: cmdLocation, lat: lat, lng: lng}, nil
	case "/mute":
		return command{kind: cmdMute}, nil
	case "/unmute":
		return command{kind: cmdUnmute}, nil
	case "/speaker":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: /speaker on|off")
		}
		switch strings.ToLower(args[0]) {
		case "on":
			return command{kind: cmdSpeaker, on: true}, nil
		case "off":
			return command{kind: cmdSpeaker, on: false}, nil
		}
		return command{}, fmt.Errorf("usage: /speaker on|off")
	case "/connect", "/reconnect":
		return command{kind: cmdConnect}, nil
	case "/disconnect":
		return command{kind: cmdDisconnect}, nil
	case "/export":
		return command{kind: cmdExport}, nil
	case "/help", "/?":
		return command{kind: cmdHelp}, nil
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("unknown command %s (try /help)", name)
}

type turnStyles struct {
	user   lipgloss.Style
	agent  lipgloss.Style
	system lipgloss.Style
	source lipgloss.Style
}

func newTurnStyles(color bool) turnStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return turnStyles{user: plain, agent: plain, system: plain, source: plain}
	}
	return turnStyles{
		user:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		agent:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		system: lipgloss.NewStyle().Faint(true),
		source: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// renderTurn formats a final turn for the console, listing its grounding sources.
func renderTurn(t transcript.Turn, st turnStyles) string {
	var b strings.Builder
	switch t.Role {
	case transcript.RoleUser:
		b.WriteString(st.user.Render("you"))
		b.WriteString(": ")
		b.WriteString(t.Text)
	case transcript.RoleAgent:
		b.WriteString(st.agent.Render("agent"))
		b.WriteString(": ")
		b.WriteString(t.Text)
	default:
		b.WriteString(st.system.Render("[system] " + t.Text))
	}
	for _, s := range sourceLines(t.GroundingChunks) {
		b.WriteString("\n  ")
		b.WriteString(st.source.Render(s))
	}
	if t.ToolResponse != nil {
		if token := t.ToolResponse.WidgetToken(); token != "" {
			b.WriteString("\n  ")
			b.WriteString(st.source.Render("maps widget: " + token))
		}
	}
	return b.String()
}

// printer writes every turn once, when it becomes final.
type printer struct {
	out        io.Writer
	styles     turnStyles
	showSystem func() bool

	mu      sync.Mutex
	printed map[string]bool
}

func newPrinter(out io.Writer, styles turnStyles, showSystem func() bool) *printer {
	return &printer{out: out, styles: styles, showSystem: showSystem, printed: make(map[string]bool)}
}

func (p *printer) onChange(_ int, t transcript.Turn) {
	if !t.IsFinal {
		return
	}
	if t.Role == transcript.RoleSystem && p.showSystem != nil && !p.showSystem() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed[t.ID] {
		return
	}
	p.printed[t.ID] = true
	fmt.Fprintln(p.out, renderTurn(t, p.styles))
}

func (p *printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}
