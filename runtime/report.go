package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/zipline/metrics"
	"github.com/pithecene-io/zipline/types"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	RunID       string              `json:"run_id"`
	ParentRunID string              `json:"parent_run_id,omitempty"`
	Attempt     int                 `json:"attempt"`
	Outcome     types.OutcomeStatus `json:"outcome"`
	Message     string              `json:"message"`
	ExitCode    int                 `json:"exit_code"`
	DurationMs  int64               `json:"duration_ms"`

	Filename     string `json:"filename,omitempty"`
	Location     string `json:"location,omitempty"`
	SinkStrategy string `json:"sink_strategy,omitempty"`

	// Failure context, set for failed runs only.
	Phase types.Phase `json:"phase,omitempty"`
	Entry string      `json:"entry,omitempty"`
	URL   string      `json:"url,omitempty"`

	EntryCount   int                 `json:"entry_count"`
	BytesWritten uint64              `json:"bytes_written" render:"bytes"`
	Entries      []types.EntryRecord `json:"entries"`
	Metrics      *metrics.Snapshot   `json:"metrics"`
}

// BuildRunReport composes a RunReport from a RunResult and metrics snapshot.
// The exitCode is the process exit code that will be returned to the caller.
func BuildRunReport(result *RunResult, snap metrics.Snapshot, exitCode int) *RunReport {
	entries := result.Entries
	if entries == nil {
		entries = []types.EntryRecord{}
	}

	report := &RunReport{
		RunID:        result.RunMeta.RunID,
		ParentRunID:  result.RunMeta.Parent(),
		Attempt:      result.RunMeta.Attempt,
		Outcome:      result.Outcome.Status,
		Message:      result.Outcome.Message,
		ExitCode:     exitCode,
		DurationMs:   result.Duration.Milliseconds(),
		Filename:     result.Outcome.Filename,
		Location:     result.Location,
		SinkStrategy: result.Strategy,
		Phase:        result.Outcome.Phase,
		Entry:        result.Outcome.Entry,
		URL:          result.Outcome.URL,
		EntryCount:   len(entries),
		BytesWritten: result.BytesWritten,
		Entries:      entries,
		Metrics:      &snap,
	}
	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeRunReportTo writes report JSON to any writer.
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
