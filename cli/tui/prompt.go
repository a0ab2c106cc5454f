package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/zipline/sink"
)

// SaveAsModel is a save-as dialog: one text input prefilled with the
// suggested file name.
type SaveAsModel struct {
	input     textinput.Model
	path      string
	errMsg    string
	done      bool
	cancelled bool
}

// NewSaveAsModel creates a dialog offering suggested as the file name.
func NewSaveAsModel(suggested string) SaveAsModel {
	ti := textinput.New()
	ti.Prompt = "› "
	ti.Placeholder = suggested
	ti.CharLimit = 4096
	ti.Width = 60
	ti.SetValue(suggested)
	ti.Focus()
	return SaveAsModel{input: ti}
}

// Init implements tea.Model.
func (m SaveAsModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m SaveAsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Cancel):
			m.cancelled = true
			return m, tea.Quit
		case key.Matches(msg, keys.Confirm):
			path := strings.TrimSpace(m.input.Value())
			if path == "" {
				m.errMsg = "enter a file name or press esc to cancel"
				return m, nil
			}
			m.path = path
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.errMsg = ""
	return m, cmd
}

// View implements tea.Model.
func (m SaveAsModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Save archive as"))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	if m.errMsg != "" {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(m.errMsg))
	}
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("enter save • esc cancel"))
	return PromptBoxStyle.Render(b.String())
}

// Result returns the chosen path, or ok=false if the dialog was cancelled.
func (m SaveAsModel) Result() (path string, ok bool) {
	if !m.done {
		return "", false
	}
	return m.path, true
}

// Prompter asks for the save path with a SaveAsModel on the terminal.
// Nil Input and Output mean stdin and stdout.
type Prompter struct {
	Input  io.Reader
	Output io.Writer
}

// PromptSavePath implements sink.Prompter.
func (p *Prompter) PromptSavePath(ctx context.Context, suggested string) (string, bool, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.Input != nil {
		opts = append(opts, tea.WithInput(p.Input))
	}
	if p.Output != nil {
		opts = append(opts, tea.WithOutput(p.Output))
	}

	final, err := tea.NewProgram(NewSaveAsModel(suggested), opts...).Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, fmt.Errorf("save dialog: %w", err)
	}

	model, ok := final.(SaveAsModel)
	if !ok {
		return "", false, fmt.Errorf("save dialog: unexpected model %T", final)
	}
	path, chosen := model.Result()
	return path, chosen, nil
}

// Verify Prompter implements sink.Prompter.
var _ sink.Prompter = (*Prompter)(nil)
