package runtime

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/zipline/types"
)

// PhaseError identifies the phase and entry at which a run failed.
type PhaseError struct {
	Phase types.Phase
	// Entry and URL are empty for phases outside any entry.
	Entry string
	URL   string
	Err   error
}

func (e *PhaseError) Error() string {
	switch e.Phase {
	case types.PhaseAcquire:
		return e.Err.Error()
	case types.PhaseFetch:
		return fmt.Sprintf("entry %q: %v", e.Entry, e.Err)
	case types.PhaseEntryBegin:
		return fmt.Sprintf("entry %q: could not start entry: %v", e.Entry, e.Err)
	case types.PhaseEntryWrite, types.PhaseEntryClose:
		return fmt.Sprintf("entry %q: %v; the archive is likely incomplete or corrupt", e.Entry, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *PhaseError) Unwrap() error { return e.Err }

// ErrInvalidConfig is wrapped by NewRunOrchestrator validation errors.
var ErrInvalidConfig = errors.New("invalid run config")

// IsInvalidConfig reports whether err came from run configuration validation.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
