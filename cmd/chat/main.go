/*
Command chat is a terminal client for the assessment assistant. It keeps one
conversation with the assistant endpoint through a client.Session and renders
it with Bubble Tea, showing streamed replies as they arrive.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"assessbot/client"
	"assessbot/protocol"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
)

type appConfig struct {
	endpoint  string
	stream    bool
	altScreen bool
	logFile   string
	timeout   time.Duration
}

func parseFlags() appConfig {
	cfg := appConfig{}
	flag.StringVar(&cfg.endpoint, "url", envOr("ASSISTANT_URL", "http://localhost:8080/api/assistant"), "assistant endpoint URL")
	flag.BoolVar(&cfg.stream, "stream", true, "request framed streaming replies")
	flag.BoolVar(&cfg.altScreen, "alt-screen", true, "run in the terminal's alternate screen")
	flag.StringVar(&cfg.logFile, "log", "", "write client logs to this file")
	flag.DurationVar(&cfg.timeout, "timeout", 0, "HTTP client timeout (0 waits until cancelled)")
	flag.Parse()
	return cfg
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// stateMsg delivers a session snapshot to the program.
type stateMsg client.State

type turnDoneMsg struct {
	err error
}

type healthMsg struct {
	text string
	err  error
}

type uiTheme struct {
	header      lipgloss.Style
	panel       lipgloss.Style
	inputPanel  lipgloss.Style
	user        lipgloss.Style
	assistant   lipgloss.Style
	timestamp   lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	helpText    lipgloss.Style
}

func newTheme() uiTheme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		header: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		user:        lipgloss.NewStyle().Foreground(mint).Bold(true),
		assistant:   lipgloss.NewStyle().Foreground(blue).Bold(true),
		timestamp:   lipgloss.NewStyle().Foreground(muted),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		helpText:    lipgloss.NewStyle().Foreground(muted),
	}
}

// conversation is the part of client.Session the UI drives.
type conversation interface {
	State() client.State
	Send(ctx context.Context, message string, enableStreaming bool) error
	Retry(ctx context.Context, enableStreaming bool) error
	Cancel()
	Clear()
	Health(ctx context.Context) (*protocol.HealthResponse, error)
}

type model struct {
	cfg     appConfig
	session conversation
	state   client.State

	statusLine string
	width      int
	height     int

	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model

	theme uiTheme
}

func newModel(cfg appConfig, session conversation) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 10000
	input.Placeholder = "Ask about a quiz, rubric or marking scheme..."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	transcript := viewport.New(0, 0)
	transcript.MouseWheelEnabled = true
	transcript.MouseWheelDelta = 4

	return model{
		cfg:        cfg,
		session:    session,
		state:      session.State(),
		statusLine: "connecting...",
		input:      input,
		transcript: transcript,
		spinner:    sp,
		theme:      newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		m.healthCmd(),
	)
}

func (m model) healthCmd() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		health, err := session.Health(ctx)
		if err != nil {
			return healthMsg{err: err}
		}
		text := fmt.Sprintf("%s provider", health.Provider)
		if !health.Configured {
			text += " (not configured)"
		}
		return healthMsg{text: text}
	}
}

func (m model) sendCmd(text string) tea.Cmd {
	session, stream := m.session, m.cfg.stream
	return func() tea.Msg {
		return turnDoneMsg{err: session.Send(context.Background(), text, stream)}
	}
}

func (m model) retryCmd() tea.Cmd {
	session, stream := m.session, m.cfg.stream
	return func() tea.Msg {
		return turnDoneMsg{err: session.Retry(context.Background(), stream)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTranscript()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case stateMsg:
		m.state = client.State(msg)
		m.renderTranscript()

	case healthMsg:
		if msg.err != nil {
			m.statusLine = "assistant unreachable: " + msg.err.Error()
		} else {
			m.statusLine = "ready · " + msg.text
		}

	case turnDoneMsg:
		if msg.err != nil {
			m.statusLine = "turn failed · ctrl+r to retry"
		} else if !m.state.IsLoading {
			m.statusLine = "ready"
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.session.Cancel()
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.statusLine = "waiting for the assistant..."
			return m, m.sendCmd(text)
		case "ctrl+x":
			m.session.Cancel()
			m.statusLine = "cancelled"
			return m, nil
		case "ctrl+r":
			m.statusLine = "retrying..."
			return m, m.retryCmd()
		case "ctrl+l":
			m.session.Cancel()
			m.session.Clear()
			m.statusLine = "conversation cleared"
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *model) resize() {
	// header (3) + input panel (3) + status and help lines (2) + transcript border (2)
	height := m.height - 10
	if height < 3 {
		height = 3
	}
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	m.transcript.Width = width
	m.transcript.Height = height
	m.input.Width = width - 4
}

func (m *model) renderTranscript() {
	width := m.transcript.Width
	if width <= 0 {
		width = 80
	}
	body := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	for i, msg := range m.state.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		label := m.theme.assistant.Render("Assistant")
		if msg.IsUser {
			label = m.theme.user.Render("You")
		}
		b.WriteString(label + " " + m.theme.timestamp.Render(msg.Timestamp.Format("15:04")) + "\n")

		content := msg.Content
		if msg.IsStreaming {
			content += "▍"
		}
		b.WriteString(body.Render(content))
	}

	m.transcript.SetContent(b.String())
	m.transcript.GotoBottom()
}

func (m model) View() string {
	thread := m.state.ThreadID
	if thread == "" {
		thread = "new conversation"
	}
	header := m.theme.header.Render("Assessment assistant · " + thread)

	status := m.theme.status.Render(m.statusLine)
	if m.state.IsLoading {
		status = m.spinner.View() + " " + m.theme.status.Render("thinking...")
	}
	if m.state.Error != "" {
		status = m.theme.errorStatus.Render("error: " + m.state.Error)
	}

	help := m.theme.helpText.Render("enter send · ctrl+x cancel · ctrl+r retry · ctrl+l clear · esc quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.theme.panel.Render(m.transcript.View()),
		status,
		m.theme.inputPanel.Render(m.input.View()),
		help,
	)
}

func newLogger(path string) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})

	if path == "" {
		logger.SetOutput(io.Discard)
		return logger, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(f)
	return logger, func() { f.Close() }, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func main() {
	cfg := parseFlags()

	logger, closeLog, err := newLogger(cfg.logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	// The program does not exist yet when the session is built.
	var program *tea.Program
	session := client.NewSession(cfg.endpoint,
		client.WithLogger(logger),
		client.WithHTTPClient(newHTTPClient(cfg.timeout)),
		client.WithOnChange(func(state client.State) {
			if program != nil {
				program.Send(stateMsg(state))
			}
		}),
	)

	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if cfg.altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	program = tea.NewProgram(newModel(cfg, session), opts...)

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "chat fatal error: %v\n", err)
		os.Exit(1)
	}
}
