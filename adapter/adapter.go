// Package adapter defines the notification boundary for finished archives.
//
// Adapters publish one ArchiveCompletedEvent per run to a downstream system.
// Publishing is best effort and never changes the run outcome.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/zipline/runtime"
	"github.com/pithecene-io/zipline/types"
)

// EventTypeArchiveCompleted is the event_type of every published event.
const EventTypeArchiveCompleted = "archive_completed"

// ArchiveCompletedEvent is the payload published when a run finishes.
type ArchiveCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "archive_completed"
	RunID           string `json:"run_id"`
	ParentRunID     string `json:"parent_run_id,omitempty"`
	Attempt         int    `json:"attempt"`
	Outcome         string `json:"outcome"` // success, cancelled or failed
	Message         string `json:"message"`
	Phase           string `json:"phase,omitempty"`
	Entry           string `json:"entry,omitempty"`
	Filename        string `json:"filename,omitempty"`
	Location        string `json:"location,omitempty"`
	SinkStrategy    string `json:"sink_strategy,omitempty"`
	EntryCount      int    `json:"entry_count"`
	BytesWritten    uint64 `json:"bytes_written"`
	DurationMs      int64  `json:"duration_ms"`
	Timestamp       string `json:"timestamp"` // RFC 3339
}

// NewArchiveCompletedEvent builds the event for a finished run report.
func NewArchiveCompletedEvent(report *runtime.RunReport, now time.Time) *ArchiveCompletedEvent {
	return &ArchiveCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeArchiveCompleted,
		RunID:           report.RunID,
		ParentRunID:     report.ParentRunID,
		Attempt:         report.Attempt,
		Outcome:         string(report.Outcome),
		Message:         report.Message,
		Phase:           string(report.Phase),
		Entry:           report.Entry,
		Filename:        report.Filename,
		Location:        report.Location,
		SinkStrategy:    report.SinkStrategy,
		EntryCount:      report.EntryCount,
		BytesWritten:    report.BytesWritten,
		DurationMs:      report.DurationMs,
		Timestamp:       now.UTC().Format(time.RFC3339),
	}
}

// Adapter publishes archive completion events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends an archive completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ArchiveCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
