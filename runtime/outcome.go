package runtime

import (
	"github.com/pithecene-io/zipline/types"
)

// Exit codes of the zipline run command.
const (
	ExitCodeSuccess      = 0 // archive written and sink closed
	ExitCodeFailed       = 1 // a phase failed
	ExitCodeInvalidInput = 3 // invalid arguments, manifest or config
	ExitCodeCancelled    = 4 // user declined to choose a destination
)

// ExitCodeFor maps a run outcome to the process exit code.
// A nil outcome maps to ExitCodeFailed.
func ExitCodeFor(outcome *types.RunOutcome) int {
	if outcome == nil {
		return ExitCodeFailed
	}
	switch outcome.Status {
	case types.OutcomeSuccess:
		return ExitCodeSuccess
	case types.OutcomeCancelled:
		return ExitCodeCancelled
	default:
		return ExitCodeFailed
	}
}

// successOutcome is the terminal result of a completed archive.
func successOutcome(filename string) *types.RunOutcome {
	return &types.RunOutcome{
		Status:   types.OutcomeSuccess,
		Filename: filename,
		Message:  "Written to " + filename + "!",
	}
}

// cancelledOutcome is the terminal result of a declined save dialog.
func cancelledOutcome() *types.RunOutcome {
	return &types.RunOutcome{
		Status:  types.OutcomeCancelled,
		Message: "no destination selected",
	}
}

// failedOutcome is the terminal result of the first failure.
func failedOutcome(err *PhaseError) *types.RunOutcome {
	return &types.RunOutcome{
		Status:  types.OutcomeFailed,
		Phase:   err.Phase,
		Entry:   err.Entry,
		URL:     err.URL,
		Message: err.Error(),
	}
}
