// Package sink negotiates the byte sink an archive is written to.
//
// A Negotiator tries an ordered list of strategies. Each strategy either
// acquires a sink, reports that it is unavailable in this environment, or
// reports that the user cancelled. The first acquired sink wins, a
// cancellation stops the search quietly, and any error is fatal.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/zipline/log"
)

// DefaultName is the archive name suggested when the caller has none.
const DefaultName = "files.zip"

// Sink is a writable byte destination for one archive.
// Writes are applied in call order and may block while the destination
// applies backpressure. Close finalizes the destination.
type Sink interface {
	io.WriteCloser
	// Abort releases the sink after a failed run without finalizing it.
	// Bytes already written are not rolled back.
	Abort(cause error) error
}

// Acquisition is an acquired sink and the name the archive will carry.
type Acquisition struct {
	// Name is the effective filename, which may differ from the suggestion.
	Name string
	// Location describes where the archive lands (a path or store key).
	Location string
	// Strategy is the name of the strategy that produced the sink.
	Strategy string
	Sink     Sink
}

// Status is the outcome of one strategy attempt.
type Status int

const (
	// Unavailable means the strategy cannot run here; try the next one.
	Unavailable Status = iota
	// Acquired means a sink was obtained.
	Acquired
	// Cancelled means the user declined to choose a destination.
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Unavailable:
		return "unavailable"
	case Acquired:
		return "acquired"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the tagged result of a strategy attempt.
type Result struct {
	Status      Status
	Acquisition *Acquisition
	// Reason explains an Unavailable result.
	Reason string
}

// AcquiredResult returns an Acquired result.
func AcquiredResult(acq *Acquisition) Result {
	return Result{Status: Acquired, Acquisition: acq}
}

// UnavailableResult returns an Unavailable result with a reason.
func UnavailableResult(reason string) Result {
	return Result{Status: Unavailable, Reason: reason}
}

// CancelledResult returns a Cancelled result.
func CancelledResult() Result {
	return Result{Status: Cancelled}
}

// Strategy is one way of obtaining a sink.
type Strategy interface {
	Name() string
	// Acquire attempts to obtain a sink for an archive called suggestedName.
	// A non-nil error is fatal for the run.
	Acquire(ctx context.Context, suggestedName string) (Result, error)
}

// ErrClosed is returned when writing to a closed or aborted sink.
var ErrClosed = errors.New("sink: closed")

// ErrNoSink is wrapped by the AcquisitionError returned when every strategy is unavailable.
var ErrNoSink = errors.New("no sink available")

// AcquisitionError reports that no sink could be obtained.
type AcquisitionError struct {
	// Strategy is the failing strategy, empty when none was available.
	Strategy string
	Err      error
}

func (e *AcquisitionError) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("failed getting file stream: %v", e.Err)
	}
	return fmt.Sprintf("failed getting file stream: %s: %v", e.Strategy, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Negotiator obtains one sink by trying strategies in order.
type Negotiator struct {
	strategies []Strategy
	logger     *log.Logger
}

// NewNegotiator creates a Negotiator over the given strategies.
func NewNegotiator(logger *log.Logger, strategies ...Strategy) *Negotiator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Negotiator{strategies: strategies, logger: logger}
}

// Acquire returns the first acquired sink. It returns (nil, nil) when the
// user cancelled, which is not an error, and (nil, *AcquisitionError) when
// a strategy failed or none was available. Acquire writes no bytes.
func (n *Negotiator) Acquire(ctx context.Context, suggestedName string) (*Acquisition, error) {
	if suggestedName == "" {
		suggestedName = DefaultName
	}

	var skipped []string
	for _, s := range n.strategies {
		if err := ctx.Err(); err != nil {
			return nil, &AcquisitionError{Strategy: s.Name(), Err: err}
		}

		res, err := s.Acquire(ctx, suggestedName)
		if err != nil {
			var acqErr *AcquisitionError
			if errors.As(err, &acqErr) {
				return nil, err
			}
			return nil, &AcquisitionError{Strategy: s.Name(), Err: err}
		}

		switch res.Status {
		case Acquired:
			if res.Acquisition == nil || res.Acquisition.Sink == nil {
				return nil, &AcquisitionError{Strategy: s.Name(), Err: errors.New("strategy acquired no sink")}
			}
			res.Acquisition.Strategy = s.Name()
			n.logger.Info("sink acquired", map[string]any{
				"strategy": s.Name(),
				"name":     res.Acquisition.Name,
				"location": res.Acquisition.Location,
			})
			return res.Acquisition, nil
		case Cancelled:
			n.logger.Info("sink selection cancelled", map[string]any{"strategy": s.Name()})
			return nil, nil
		default:
			n.logger.Debug("sink strategy unavailable", map[string]any{
				"strategy": s.Name(),
				"reason":   res.Reason,
			})
			skipped = append(skipped, fmt.Sprintf("%s (%s)", s.Name(), res.Reason))
		}
	}

	if len(skipped) == 0 {
		return nil, &AcquisitionError{Err: ErrNoSink}
	}
	return nil, &AcquisitionError{Err: fmt.Errorf("%w: tried %v", ErrNoSink, skipped)}
}
