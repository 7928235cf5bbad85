package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
)

// ErrLoginCanceled is returned by RunLogin when the user quits the form.
var ErrLoginCanceled = errors.New("login canceled")

// Authenticator signs a user in.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (bool, error)
}

type loginResultMsg struct {
	ok  bool
	err error
}

// loginModel is the bubbletea model for the login form.
type loginModel struct {
	ctx   context.Context
	auth  Authenticator
	theme Theme

	inputs  []textinput.Model
	focus   int
	spinner spinner.Model

	busy     bool
	done     bool
	canceled bool
	err      error
}

func newLoginModel(ctx context.Context, auth Authenticator, username string) loginModel {
	user := textinput.New()
	user.Prompt = "Username: "
	user.CharLimit = 50
	user.SetValue(username)

	pass := textinput.New()
	pass.Prompt = "Password: "
	pass.EchoMode = textinput.EchoPassword
	pass.CharLimit = 120

	m := loginModel{
		ctx:     ctx,
		auth:    auth,
		theme:   DefaultTheme,
		inputs:  []textinput.Model{user, pass},
		spinner: spinner.New(spinner.WithSpinner(spinner.MiniDot)),
	}
	if username != "" {
		m.focus = 1
	}
	m.inputs[m.focus].Focus()
	return m
}

// Init starts the spinner.
func (m loginModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and returns the updated model.
func (m loginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.canceled = true
			return m, tea.Quit
		case "tab", "shift+tab", "up", "down":
			if !m.busy {
				m.setFocus(1 - m.focus)
			}
			return m, nil
		case "enter":
			if m.busy {
				return m, nil
			}
			if m.focus == 0 {
				m.setFocus(1)
				return m, nil
			}
			return m.submit()
		}
		if m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case loginResultMsg:
		m.busy = false
		if msg.ok {
			m.done = true
			m.err = nil
			return m, tea.Quit
		}
		m.err = msg.err
		if m.err == nil {
			m.err = errors.New("login failed")
		}
		m.inputs[1].Reset()
		m.setFocus(1)
		return m, nil
	}
	return m, nil
}

func (m *loginModel) setFocus(i int) {
	m.inputs[m.focus].Blur()
	m.focus = i
	m.inputs[m.focus].Focus()
}

func (m loginModel) submit() (tea.Model, tea.Cmd) {
	username := strings.TrimSpace(m.inputs[0].Value())
	password := m.inputs[1].Value()
	if username == "" || password == "" {
		m.err = errors.New("username and password are required")
		return m, nil
	}

	m.busy = true
	m.err = nil
	ctx, auth := m.ctx, m.auth
	return m, func() tea.Msg {
		ok, err := auth.Login(ctx, username, password)
		return loginResultMsg{ok: ok, err: err}
	}
}

// View renders the login form.
func (m loginModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m loginModel) renderContent() string {
	if m.done {
		return m.theme.completedStyle().Render("✓ Signed in") + "\n"
	}

	var b strings.Builder
	b.WriteString(m.theme.titleStyle().Render("Sign in to ragone") + "\n\n")
	for _, in := range m.inputs {
		b.WriteString(in.View() + "\n")
	}
	b.WriteString("\n")
	switch {
	case m.busy:
		b.WriteString(m.spinner.View() + m.theme.statusStyle().Render(" signing in…") + "\n")
	case m.err != nil:
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("✗ %s", ErrorText(m.err))) + "\n")
	default:
		b.WriteString("\n")
	}
	b.WriteString(m.theme.hintStyle().Render("tab switch field · enter submit · esc cancel"))
	return b.String()
}

// RunLogin shows the login form until the user signs in or cancels.
func RunLogin(ctx context.Context, auth Authenticator, username string) error {
	p := tea.NewProgram(newLoginModel(ctx, auth, username), tea.WithContext(ctx))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("login UI error: %w", err)
	}
	if m, ok := finalModel.(loginModel); ok && !m.done {
		return ErrLoginCanceled
	}
	return nil
}
