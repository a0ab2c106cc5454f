package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/pithecene-io/zipline/archive"
	"github.com/pithecene-io/zipline/runtime"
)

// InspectModel is a Bubble Tea model for read-only views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) || key.Matches(msg, keys.Cancel) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewReport:
		content = m.renderReport()
	case ViewVerify:
		content = m.renderVerify()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func writeRow(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
}

func (m InspectModel) renderReport() string {
	data, ok := m.data.(*runtime.RunReport)
	if !ok {
		return "Invalid data type for " + ViewReport
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run Report"))
	b.WriteString("\n\n")

	writeRow(&b, "Run ID", data.RunID)
	fmt.Fprintf(&b, "%s %s\n",
		LabelStyle.Render("Outcome:"),
		StateStyle(string(data.Outcome)).Render(string(data.Outcome)))
	writeRow(&b, "Message", data.Message)
	writeRow(&b, "Exit Code", fmt.Sprintf("%d", data.ExitCode))
	writeRow(&b, "Duration", fmt.Sprintf("%dms", data.DurationMs))

	if data.Filename != "" {
		writeRow(&b, "Filename", data.Filename)
	}
	if data.Location != "" {
		writeRow(&b, "Location", data.Location)
	}
	if data.SinkStrategy != "" {
		writeRow(&b, "Sink", data.SinkStrategy)
	}
	if data.Phase != "" {
		writeRow(&b, "Phase", string(data.Phase))
	}
	if data.Entry != "" {
		writeRow(&b, "Entry", data.Entry)
	}
	if data.URL != "" {
		writeRow(&b, "URL", data.URL)
	}

	writeRow(&b, "Entries", fmt.Sprintf("%d", data.EntryCount))
	writeRow(&b, "Written", humanize.Bytes(data.BytesWritten))

	if len(data.Entries) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Entries"))
		b.WriteString("\n")
		for _, e := range data.Entries {
			fmt.Fprintf(&b, "  • %s %s\n",
				ValueStyle.Render(e.Name),
				HelpStyle.UnsetMarginTop().Render(fmt.Sprintf("%s crc=%08x", humanize.Bytes(e.UncompressedSize), e.CRC32)))
		}
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderVerify() string {
	data, ok := m.data.(*archive.VerifyReport)
	if !ok {
		return "Invalid data type for " + ViewVerify
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Archive Check"))
	b.WriteString("\n\n")

	writeRow(&b, "Path", data.Path)
	writeRow(&b, "Size", humanize.Bytes(uint64(max(data.Size, 0))))
	writeRow(&b, "Entries", fmt.Sprintf("%d", len(data.Entries)))
	if data.Valid {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Status:"), SuccessStyle.Render("ok"))
	} else {
		failed := len(data.Failed())
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Status:"),
			ErrorStyle.Render(fmt.Sprintf("%d of %d entries failed", failed, len(data.Entries))))
	}

	if len(data.Entries) > 0 {
		b.WriteString("\n")
		for _, e := range data.Entries {
			if e.OK {
				fmt.Fprintf(&b, "  %s %s\n", SuccessStyle.Render("✓"), ValueStyle.Render(e.Name))
				continue
			}
			fmt.Fprintf(&b, "  %s %s %s\n",
				ErrorStyle.Render("✗"),
				ValueStyle.Render(e.Name),
				ErrorStyle.Render(e.Error))
		}
	}

	return BoxStyle.Render(b.String())
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
