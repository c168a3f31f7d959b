package repl

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

const gap = "\n"

type commandOutputMsg struct {
	output string
	isErr  bool
}

type styles struct {
	banner  lipgloss.Style
	hint    lipgloss.Style
	prompt  lipgloss.Style
	value   lipgloss.Style
	errText lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		banner:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		hint:    lipgloss.NewStyle().Faint(true),
		prompt:  lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		value:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		errText: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// Model is the bubbletea repl. It drives the same Session whether it
// runs locally or is served over SSH.
type Model struct {
	session  *Session
	input    textinput.Model
	viewport viewport.Model
	styles   styles
	commands map[string]metaCmdHandler

	// Scrollback, pre-styled at append time.
	lines []string

	height   int
	quitting bool
}

func New(config Config) Model {
	session := NewSession(config)
	st := defaultStyles()

	ti := textinput.New()
	ti.Placeholder = "(+ 1 2)"
	ti.Prompt = session.Prompt()
	ti.PromptStyle = st.prompt
	ti.Focus()

	// Minimal defaults; proper sizing happens on WindowSizeMsg
	vp := viewport.New(80, 20)

	m := Model{
		session:  session,
		input:    ti,
		viewport: vp,
		styles:   st,
		commands: getMetaCommandMap(),
	}
	m.refreshViewport()
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.viewport.Width = msg.Width

		inputHeight := lipgloss.Height(m.input.View())
		m.viewport.Height = msg.Height - inputHeight - lipgloss.Height(gap)
		if m.viewport.Height < 1 {
			m.viewport.Height = 1
		}

		m.refreshViewport()
		m.viewport.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submitLine()
		case tea.KeyUp:
			m.session.StartHistoryNavigation(m.input.Value())
			if historyCmd := m.session.NavigateHistory(true); historyCmd != "" || m.session.IsInHistoryMode() {
				m.input.SetValue(historyCmd)
				m.input.CursorEnd()
			}
			return m, nil
		case tea.KeyDown:
			if m.session.IsInHistoryMode() {
				m.input.SetValue(m.session.NavigateHistory(false))
				m.input.CursorEnd()
			}
			return m, nil
		}

	case commandOutputMsg:
		style := m.styles.value
		if msg.isErr {
			style = m.styles.errText
		}
		m.appendLine(style.Render(msg.output))
		return m, nil
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)
	m.input, tiCmd = m.input.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m Model) submitLine() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if line == "" {
		return m, nil
	}

	log.Info("Command received", "command", line)
	m.session.AddToHistory(line)
	m.appendLine(m.styles.prompt.Render(m.session.Prompt()) + line)

	var cmd tea.Cmd
	if strings.HasPrefix(line, ":") {
		name, args := splitCommand(line)
		if handler, ok := m.commands[name]; ok {
			cmd = handler(m.session, args)
		} else {
			cmd = outputCmd("unknown command "+name+", try :help", true)
		}
	} else {
		cmd = evalCmd(m.session, line)
	}

	// Meta handlers mutate the session synchronously, so a :mode
	// switch is reflected on the very next prompt.
	m.input.Prompt = m.session.Prompt()

	return m, cmd
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refreshViewport()
	m.viewport.GotoBottom()
}

func (m *Model) bannerView() string {
	return m.styles.banner.Render("skiff repl") + "\n" +
		m.styles.hint.Render("Evaluating under "+string(m.session.Strategy())+". Type :help for commands.") + "\n"
}

func (m *Model) refreshViewport() {
	content := m.bannerView()
	if len(m.lines) > 0 {
		content += "\n" + strings.Join(m.lines, "\n")
	}
	// Wrap content before setting it.
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(content))
}

// View renders the model
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	content := lipgloss.JoinVertical(
		lipgloss.Top,
		m.viewport.View(),
		gap,
		m.input.View(),
	)
	// Ensure the content fits exactly in the terminal height
	return lipgloss.NewStyle().Height(m.height).Render(content)
}

func splitCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
