package types

// EventType discriminates frames on the events stream.
type EventType string

// Event type constants.
const (
	// EventTypeProgress carries one ProgressEvent per closed entry.
	EventTypeProgress EventType = "progress"
	// EventTypeOutcome carries the terminal RunOutcome. It is always the last frame.
	EventTypeOutcome EventType = "outcome"
)

// IsTerminal returns true if this event type ends the stream.
func (e EventType) IsTerminal() bool {
	return e == EventTypeOutcome
}

// EventEnvelope is one frame of the events stream a host UI reads to follow a run.
// All fields use msgpack tags; exactly one of Progress or Outcome is set.
type EventEnvelope struct {
	// ContractVersion is the semantic version of the events stream contract.
	ContractVersion string `msgpack:"contract_version"`
	// RunID is the canonical run identifier.
	RunID string `msgpack:"run_id"`
	// Seq is the monotonic sequence number, starts at 1.
	Seq int64 `msgpack:"seq"`
	// Type is the event type discriminator.
	Type EventType `msgpack:"type"`
	// Ts is the event timestamp in RFC 3339 UTC format.
	Ts string `msgpack:"ts"`
	// ParentRunID is the parent run ID for restarted runs.
	ParentRunID *string `msgpack:"parent_run_id,omitempty"`
	// Attempt is the attempt number, always present, starts at 1.
	Attempt int `msgpack:"attempt"`

	Progress *ProgressEvent `msgpack:"progress,omitempty"`
	Outcome  *RunOutcome    `msgpack:"outcome,omitempty"`
}
