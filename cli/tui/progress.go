package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/pithecene-io/zipline/types"
)

type entryDoneMsg types.ProgressEvent

type runDoneMsg struct {
	outcome *types.RunOutcome
}

// ProgressModel shows how many entries of a run have been added.
type ProgressModel struct {
	name      string
	total     int
	done      int
	bytes     uint64
	last      string
	bar       progress.Model
	outcome   *types.RunOutcome
	interrupt func()
	stopping  bool
}

// NewProgressModel creates a progress view for an archive of total entries.
// interrupt, if set, is called when the user presses esc or ctrl+c.
func NewProgressModel(name string, total int, interrupt func()) ProgressModel {
	return ProgressModel{
		name:      name,
		total:     total,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		interrupt: interrupt,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case entryDoneMsg:
		m.done++
		m.bytes += msg.Bytes
		m.last = msg.Name
		return m, nil

	case runDoneMsg:
		m.outcome = msg.outcome
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(msg.Width-4, 60))
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Cancel) && !m.stopping {
			m.stopping = true
			if m.interrupt != nil {
				m.interrupt()
			}
		}
	}
	return m, nil
}

func (m ProgressModel) percent() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.done) / float64(m.total)
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Writing to " + m.name + "..."))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.percent()))
	b.WriteString("\n")
	b.WriteString(ValueStyle.Render(fmt.Sprintf("%d/%d entries · %s", m.done, m.total, humanize.Bytes(m.bytes))))
	if m.last != "" {
		b.WriteString("\n")
		b.WriteString(LabelStyle.UnsetWidth().Render("Added " + m.last + " to zip"))
	}

	switch {
	case m.outcome != nil:
		b.WriteString("\n")
		b.WriteString(StateStyle(string(m.outcome.Status)).Render(m.outcome.Message))
		b.WriteString("\n")
	case m.stopping:
		b.WriteString("\n")
		b.WriteString(WarningStyle.Render("stopping..."))
	default:
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("esc stop"))
	}
	return b.String()
}

// ProgressView runs a ProgressModel alongside a pipeline run.
type ProgressView struct {
	program *tea.Program
	done    chan struct{}
	err     error
}

// StartProgress starts the progress view in the background.
func StartProgress(ctx context.Context, model ProgressModel, opts ...tea.ProgramOption) *ProgressView {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	v := &ProgressView{
		program: tea.NewProgram(model, opts...),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(v.done)
		_, v.err = v.program.Run()
	}()
	return v
}

// Observe forwards one progress event. It matches runtime.ProgressObserver.
func (v *ProgressView) Observe(ev types.ProgressEvent) {
	v.program.Send(entryDoneMsg(ev))
}

// Finish shows the outcome, stops the view and waits for it to exit.
func (v *ProgressView) Finish(outcome *types.RunOutcome) error {
	v.program.Send(runDoneMsg{outcome: outcome})
	<-v.done
	return v.err
}
