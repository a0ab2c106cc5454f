//nolint:revive // types is a common Go package naming convention
package types

// OutcomeStatus is the terminal status of a run.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates the archive was fully written and the sink closed.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeCancelled indicates the user declined to pick a destination.
	// It is not an error.
	OutcomeCancelled OutcomeStatus = "cancelled"
	// OutcomeFailed indicates the run stopped at the first failure.
	OutcomeFailed OutcomeStatus = "failed"
)

// Phase identifies where a run failed.
type Phase string

const (
	PhaseAcquire      Phase = "acquire"
	PhaseFetch        Phase = "fetch"
	PhaseEntryBegin   Phase = "entry_begin"
	PhaseEntryWrite   Phase = "entry_write"
	PhaseEntryClose   Phase = "entry_close"
	PhaseArchiveClose Phase = "archive_close"
)

// RunOutcome is the single terminal result of a run.
type RunOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus `msgpack:"status" json:"status"`
	// Filename is the effective output filename (success only).
	Filename string `msgpack:"filename,omitempty" json:"filename,omitempty"`
	// Phase is the failing phase (failed only).
	Phase Phase `msgpack:"phase,omitempty" json:"phase,omitempty"`
	// Entry is the entry being processed when the run failed, if any.
	Entry string `msgpack:"entry,omitempty" json:"entry,omitempty"`
	// URL is the source of Entry, if any.
	URL string `msgpack:"url,omitempty" json:"url,omitempty"`
	// Message is the user-visible status message.
	Message string `msgpack:"message" json:"message"`
}
