package tui

import (
	"fmt"
	"slices"
)

// Read-only views. Each takes the same payload the non-TUI renderer prints.
const (
	ViewReport = "inspect_report" // *runtime.RunReport
	ViewVerify = "inspect_verify" // *archive.VerifyReport
)

// Run starts the TUI for a read-only view.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	return RunInspectTUI(viewType, data)
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewReport, ViewVerify}
}
