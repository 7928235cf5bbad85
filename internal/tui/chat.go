package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"github.com/google/uuid"
	"github.com/raphaelgruber/ragone/internal/models"
)

// ErrSessionExpired is returned by RunChat when the server rejected the
// credential while the chat was open.
var ErrSessionExpired = errors.New("session expired")

const chatHelp = "enter send · /rate <turn> <1-5> · /reload · /pause · /resume · /end · esc quit"

// sentMsg carries the outcome of a send. id matches the pending placeholder.
type sentMsg struct {
	id   string
	turn Turn
	err  error
}

// actionMsg carries the outcome of a slash command.
type actionMsg struct {
	status string
	err    error
	ended  bool
}

// authMsg carries a session gate state change.
type authMsg struct {
	state  models.AuthState
	closed bool
}

// pending is the transient placeholder for a send awaiting confirmation. It
// is dropped, never merged, once the server answers.
type pending struct {
	id   string
	text string
}

// ChatOptions configures the chat screen.
type ChatOptions struct {
	// Auth delivers session state changes; the screen closes when the
	// session ends. Optional.
	Auth  <-chan models.AuthState
	Theme *Theme
}

// chatModel is the bubbletea model for a conversation.
type chatModel struct {
	ctx   context.Context
	conv  Conversation
	auth  <-chan models.AuthState
	theme Theme

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	width    int

	turns     []Turn
	pending   *pending
	status    string
	statusErr bool
	ended     bool
	expired   bool
}

func newChatModel(ctx context.Context, conv Conversation, opts ChatOptions) chatModel {
	theme := DefaultTheme
	if opts.Theme != nil {
		theme = *opts.Theme
	}

	input := textinput.New()
	input.Placeholder = "Type a message"
	input.CharLimit = 4000
	input.SetWidth(76)
	input.Focus()

	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(18))
	vp.KeyMap = viewport.KeyMap{
		PageUp:   vp.KeyMap.PageUp,
		PageDown: vp.KeyMap.PageDown,
	}
	vp.KeyMap.PageUp.SetKeys("pgup")
	vp.KeyMap.PageDown.SetKeys("pgdown")

	m := chatModel{
		ctx:      ctx,
		conv:     conv,
		auth:     opts.Auth,
		theme:    theme,
		input:    input,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		viewport: vp,
		width:    80,
		turns:    conv.Turns(),
	}
	m.refresh()
	return m
}

// Init starts the spinner and the auth watch.
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitAuth(m.auth))
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.SetWidth(msg.Width)
		m.viewport.SetHeight(max(msg.Height-5, 3))
		m.input.SetWidth(max(msg.Width-4, 10))
		m.refresh()
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.pending != nil {
			m.refresh()
		}
		return m, cmd

	case sentMsg:
		if m.pending == nil || msg.id != m.pending.id {
			return m, nil
		}
		text := m.pending.text
		m.pending = nil
		if msg.err != nil {
			m.setError(msg.err)
			if m.input.Value() == "" {
				m.input.SetValue(text)
			}
		} else {
			m.status, m.statusErr = "", false
			m.turns = m.conv.Turns()
		}
		m.refresh()
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.setError(msg.err)
		} else {
			m.status, m.statusErr = msg.status, false
		}
		if msg.ended {
			m.ended = true
		}
		m.turns = m.conv.Turns()
		m.refresh()
		return m, nil

	case authMsg:
		if msg.closed {
			return m, nil
		}
		if msg.state.Status == models.StatusUnauthenticated {
			m.expired = true
			return m, tea.Quit
		}
		return m, waitAuth(m.auth)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.command(strings.Fields(text))
	}
	if m.pending != nil {
		m.status, m.statusErr = "Wait for the reply before sending again", true
		return m, nil
	}

	p := &pending{id: uuid.NewString(), text: text}
	m.pending = p
	m.input.Reset()
	m.status, m.statusErr = "", false
	m.refresh()
	return m, m.send(p)
}

func (m chatModel) send(p *pending) tea.Cmd {
	ctx, conv := m.ctx, m.conv
	return func() tea.Msg {
		turn, err := conv.Send(ctx, p.text)
		return sentMsg{id: p.id, turn: turn, err: err}
	}
}

func (m chatModel) command(args []string) (tea.Model, tea.Cmd) {
	ctx, conv := m.ctx, m.conv
	switch args[0] {
	case "/quit", "/q":
		return m, tea.Quit

	case "/help":
		m.status, m.statusErr = chatHelp, false
		return m, nil

	case "/rate":
		rater, ok := conv.(Rater)
		if !ok {
			m.status, m.statusErr = "This conversation cannot be rated", true
			return m, nil
		}
		if len(args) != 3 {
			m.status, m.statusErr = "Usage: /rate <turn> <1-5>", true
			return m, nil
		}
		turn, err1 := strconv.Atoi(args[1])
		rating, err2 := strconv.Atoi(args[2])
		if err1 != nil || err2 != nil {
			m.status, m.statusErr = "Usage: /rate <turn> <1-5>", true
			return m, nil
		}
		return m, func() tea.Msg {
			if err := rater.RateTurn(ctx, turn, rating); err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{status: fmt.Sprintf("Rated turn %d: %d/5", turn, rating)}
		}

	case "/reload":
		reloader, ok := conv.(Reloader)
		if !ok {
			m.status, m.statusErr = "This conversation cannot be reloaded", true
			return m, nil
		}
		return m, func() tea.Msg {
			if err := reloader.Reload(ctx); err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{status: "History reloaded"}
		}

	case "/pause", "/resume":
		pauser, ok := conv.(Pauser)
		if !ok {
			m.status, m.statusErr = "This conversation cannot be paused", true
			return m, nil
		}
		if args[0] == "/pause" {
			if err := pauser.Pause(); err != nil {
				m.setError(err)
				return m, nil
			}
			m.status, m.statusErr = "Paused. /resume to continue", false
			return m, nil
		}
		if err := pauser.Resume(); err != nil {
			m.setError(err)
			return m, nil
		}
		m.status, m.statusErr = "Resumed", false
		return m, nil

	case "/end":
		ender, ok := conv.(Ender)
		if !ok {
			m.status, m.statusErr = "This conversation cannot be ended", true
			return m, nil
		}
		return m, func() tea.Msg {
			if err := ender.End(ctx); err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{status: "Session ended", ended: true}
		}
	}

	m.status, m.statusErr = "Unknown command. "+chatHelp, true
	return m, nil
}

func (m *chatModel) setError(err error) {
	m.status, m.statusErr = ErrorText(err), true
}

// refresh re-renders the transcript into the viewport.
func (m *chatModel) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m chatModel) transcript() string {
	wrap := m.theme.replyStyle().Width(max(m.width-4, 20))

	var b strings.Builder
	for _, t := range m.turns {
		b.WriteString(m.theme.userStyle().Render(fmt.Sprintf("[%d] you: ", t.Index)) + t.User + "\n")
		b.WriteString(wrap.Render(t.Reply) + "\n")
		if t.Meta != "" {
			b.WriteString(m.theme.hintStyle().Render("    "+t.Meta) + "\n")
		}
		b.WriteString("\n")
	}
	if m.pending != nil {
		b.WriteString(m.theme.userStyle().Render("you: ") + m.pending.text + "\n")
		b.WriteString(m.spinner.View() + m.theme.hintStyle().Render(" sending…") + "\n")
	}
	if len(m.turns) == 0 && m.pending == nil {
		b.WriteString(m.theme.hintStyle().Render("No messages yet.") + "\n")
	}
	return b.String()
}

// View renders the chat screen.
func (m chatModel) View() tea.View {
	v := tea.NewView(m.renderContent())
	v.AltScreen = true
	return v
}

func (m chatModel) renderContent() string {
	var b strings.Builder
	title := m.conv.Title()
	if m.ended {
		title += " (ended)"
	}
	b.WriteString(m.theme.titleStyle().Render(title) + "\n")
	b.WriteString(m.viewport.View() + "\n")

	switch {
	case m.status != "" && m.statusErr:
		b.WriteString(m.theme.errorStyle().Render(m.status) + "\n")
	case m.status != "":
		b.WriteString(m.theme.statusStyle().Render(m.status) + "\n")
	default:
		b.WriteString("\n")
	}

	b.WriteString(m.input.View() + "\n")
	b.WriteString(m.theme.hintStyle().Render(chatHelp))
	return b.String()
}

// waitAuth blocks on the next session state. A nil channel never delivers.
func waitAuth(ch <-chan models.AuthState) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		st, ok := <-ch
		return authMsg{state: st, closed: !ok}
	}
}

// RunChat runs the interactive chat until the user quits. It returns
// ErrSessionExpired if the session ended while the screen was open.
func RunChat(ctx context.Context, conv Conversation, opts ChatOptions) error {
	p := tea.NewProgram(newChatModel(ctx, conv, opts), tea.WithContext(ctx))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	if m, ok := finalModel.(chatModel); ok && m.expired {
		return ErrSessionExpired
	}
	return nil
}
