// Package cli is the terminal front-end. It shows the opening narration,
// plays the first round, then prompts "GM:" for every following narration.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	gmtrainer "github.com/maxwelljoslyn/gm-trainer"
	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/logging"
	"github.com/maxwelljoslyn/gm-trainer/prompt"
	"github.com/maxwelljoslyn/gm-trainer/session"
)

// Options configures the terminal front-end.
type Options struct {
	// AutoStart plays the first round on the opening narration without
	// waiting for input.
	AutoStart bool
	AltScreen bool
	Logger    logging.Logger
}

type utteranceMsg struct {
	u core.Utterance
}

type turnStartedMsg struct {
	events chan tea.Msg
}

type turnDoneMsg struct {
	err error
}

type theme struct {
	gm     lipgloss.Style
	player lipgloss.Style
	text   lipgloss.Style
	err    lipgloss.Style
	status lipgloss.Style
	help   lipgloss.Style
}

func newTheme() theme {
	amber := lipgloss.Color("#ffd166")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")

	return theme{
		gm:     lipgloss.NewStyle().Foreground(amber).Bold(true),
		player: lipgloss.NewStyle().Foreground(mint).Bold(true),
		text:   lipgloss.NewStyle(),
		err:    lipgloss.NewStyle().Foreground(pink).Bold(true),
		status: lipgloss.NewStyle().Foreground(muted),
		help:   lipgloss.NewStyle().Foreground(muted).Italic(true),
	}
}

type model struct {
	ctx    context.Context
	cancel context.CancelFunc
	sess   *session.Session
	opts   Options

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    theme

	lines    []string
	width    int
	busy     bool
	quitting bool
	events   chan tea.Msg
}

func newModel(ctx context.Context, sess *session.Session, opts Options) model {
	ctx, cancel := context.WithCancel(ctx)

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	input := textinput.New()
	input.Prompt = prompt.NarrationPrefix
	input.Placeholder = "describe what happens next"
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	m := model{
		ctx:      ctx,
		cancel:   cancel,
		sess:     sess,
		opts:     opts,
		input:    input,
		timeline: viewport.New(80, 20),
		spinner:  sp,
		theme:    newTheme(),
		busy:     opts.AutoStart,
	}
	m.appendGM(sess.Narration())

	return m
}

func (m model) Init() tea.Cmd {
	if m.opts.AutoStart {
		return m.startTurn("")
	}

	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.timeline.Width = msg.Width
		m.timeline.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 10)
		m.render()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy || m.sess.State() == session.Halted {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				m.appendError(session.ErrEmptyNarration.Error())
				return m, nil
			}
			m.input.Reset()
			m.appendGM(text)
			m.busy = true
			return m, m.startTurn(text)
		}

	case turnStartedMsg:
		m.events = msg.events
		return m, tea.Batch(m.spinner.Tick, waitMsg(m.events))

	case utteranceMsg:
		m.appendUtterance(msg.u)
		return m, waitMsg(m.events)

	case turnDoneMsg:
		m.busy = false
		m.events = nil
		if msg.err != nil {
			m.opts.Logger.Error("cli.turn.error", "error", msg.err)
			m.appendError(gmtrainer.Describe(msg.err))
		}
		if m.sess.State() == session.Halted {
			m.input.Blur()
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.timeline, cmd = m.timeline.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var status string
	switch {
	case m.busy:
		status = m.spinner.View() + m.theme.status.Render(" players are thinking...")
	case m.sess.State() == session.Halted:
		status = m.theme.err.Render("session halted") + m.theme.help.Render(" · ctrl+c to quit")
	default:
		status = m.theme.help.Render(fmt.Sprintf("round %d · enter to narrate · ctrl+c to quit", m.sess.Snapshot().Round+1))
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.timeline.View(), status, m.input.View())
}

// startTurn runs a round in the background. Utterances arrive on the
// returned channel as they are produced, followed by one turnDoneMsg.
func (m model) startTurn(narration string) tea.Cmd {
	ctx, sess := m.ctx, m.sess

	return func() tea.Msg {
		events := make(chan tea.Msg, 8)

		go func() {
			defer close(events)

			if narration != "" && narration != sess.Narration() {
				if err := sess.SetNarration(narration); err != nil {
					events <- turnDoneMsg{err: err}
					return
				}
			}

			_, err := sess.RunTurn(ctx, func(o *session.TurnOptions) {
				o.Display = func(u core.Utterance) { events <- utteranceMsg{u: u} }
			})
			events <- turnDoneMsg{err: err}
		}()

		return turnStartedMsg{events: events}
	}
}

func waitMsg(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}

	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *model) appendGM(text string) {
	m.lines = append(m.lines, m.theme.gm.Render(strings.TrimSpace(prompt.NarrationPrefix))+" "+m.theme.text.Render(text))
	m.render()
}

func (m *model) appendUtterance(u core.Utterance) {
	m.lines = append(m.lines, m.theme.player.Render(u.Character+":")+" "+m.theme.text.Render(u.Text))
	m.render()
}

func (m *model) appendError(text string) {
	m.lines = append(m.lines, m.theme.err.Render(text))
	m.render()
}

func (m *model) render() {
	content := strings.Join(m.lines, "\n\n")
	if m.width > 0 {
		content = lipgloss.NewStyle().Width(m.width).Render(content)
	}
	m.timeline.SetContent(content)
	m.timeline.GotoBottom()
}

// Run drives sess from the terminal until the user quits or ctx is done.
func Run(ctx context.Context, sess *session.Session, optFns ...func(o *Options)) error {
	opts := Options{
		AutoStart: true,
		AltScreen: true,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	programOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.AltScreen {
		programOpts = append(programOpts, tea.WithAltScreen())
	}

	m := newModel(ctx, sess, opts)
	defer m.cancel()

	if _, err := tea.NewProgram(m, programOpts...).Run(); err != nil {
		return fmt.Errorf("run terminal ui: %w", err)
	}

	return nil
}
