// Package runtime drives one archive run from sink acquisition to the
// final central directory.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/zipline/archive"
	"github.com/pithecene-io/zipline/fetch"
	"github.com/pithecene-io/zipline/log"
	"github.com/pithecene-io/zipline/metrics"
	"github.com/pithecene-io/zipline/sink"
	"github.com/pithecene-io/zipline/types"
)

// SinkAcquirer obtains the archive sink. sink.Negotiator implements it.
// A nil acquisition with a nil error means the user cancelled.
type SinkAcquirer interface {
	Acquire(ctx context.Context, suggestedName string) (*sink.Acquisition, error)
}

// Fetcher retrieves entry sources. fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Body, error)
}

// RunConfig configures a single run.
type RunConfig struct {
	// Entries are archived in order.
	Entries []types.EntryRequest
	// SuggestedName is offered to the sink (default sink.DefaultName).
	SuggestedName string
	// RunMeta is the run identity and lineage metadata.
	RunMeta *types.RunMeta
	Sinks   SinkAcquirer
	Fetcher Fetcher
	// ArchiveOptions are passed to archive.Open.
	ArchiveOptions []archive.Option
	// OnProgress is called once per closed entry, off the pipeline goroutine.
	OnProgress ProgressObserver
	// OnStateChange is called synchronously on every state transition.
	OnStateChange StateObserver
	// Collector is the metrics collector for this run.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
	// Logger defaults to a JSON logger on stderr carrying the run context.
	Logger *log.Logger
}

// RunResult represents the result of a run.
type RunResult struct {
	RunMeta *types.RunMeta
	Outcome *types.RunOutcome
	// Err is the failure behind a failed outcome.
	Err      error
	Duration time.Duration
	// Entries are the records of every closed entry, in order.
	Entries []types.EntryRecord
	// BytesWritten is the number of bytes the archive wrote to the sink.
	BytesWritten uint64
	// Location and Strategy describe the acquired sink, if any.
	Location string
	Strategy string
}

// RunOrchestrator orchestrates a single run.
type RunOrchestrator struct {
	config    *RunConfig
	logger    *log.Logger
	state     *stateMachine
	startTime time.Time
}

// NewRunOrchestrator validates the config and creates an orchestrator.
// Validation errors wrap ErrInvalidConfig.
func NewRunOrchestrator(config *RunConfig) (*RunOrchestrator, error) {
	if config.RunMeta == nil {
		return nil, fmt.Errorf("%w: run metadata is required", ErrInvalidConfig)
	}
	if err := config.RunMeta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid run metadata: %w", ErrInvalidConfig, err)
	}
	if err := types.ValidateEntries(config.Entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if config.Sinks == nil {
		return nil, fmt.Errorf("%w: sink acquirer is required", ErrInvalidConfig)
	}
	if config.Fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidConfig)
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(config.RunMeta)
	}

	return &RunOrchestrator{
		config: config,
		logger: logger,
		state:  newStateMachine(config.OnStateChange),
	}, nil
}

// Execute runs the pipeline once. It always returns a result; the outcome
// carries failures. Every progress event has been delivered when Execute
// returns.
//
// Execution flow:
//  1. Acquire the sink (cancel stops quietly)
//  2. Open the archive
//  3. For each entry in order: fetch, begin entry, stream chunks, close entry
//  4. Close the archive, which closes the sink
//
// The first failure ends the run. Nothing is retried.
func (r *RunOrchestrator) Execute(ctx context.Context) (*RunResult, error) {
	r.startTime = time.Now()
	r.config.Collector.IncRunStarted()

	progress := newProgressDispatcher(r.config.OnProgress, r.logger)
	defer progress.close()

	name := r.config.SuggestedName
	if name == "" {
		name = sink.DefaultName
	}
	r.logger.Info("starting run", map[string]any{
		"entries":        len(r.config.Entries),
		"suggested_name": name,
	})

	acq, err := r.config.Sinks.Acquire(ctx, name)
	if err != nil {
		return r.fail(&PhaseError{Phase: types.PhaseAcquire, Err: err}, nil, nil), nil
	}
	if acq == nil {
		r.state.to(StateCancelled)
		r.logger.Info("run cancelled", nil)
		return r.buildResult(cancelledOutcome(), nil, nil, nil), nil
	}
	r.state.to(StateSinkAcquired)
	r.config.Collector.SetSinkStrategy(acq.Strategy)

	out := sink.NewInstrumentedSink(acq.Sink, r.config.Collector)
	zw := archive.Open(out, r.config.ArchiveOptions...)
	r.state.to(StateArchiveOpen)
	r.logger.Info("Writing to "+acq.Name+"...", map[string]any{
		"location": acq.Location,
		"strategy": acq.Strategy,
	})

	for i, req := range r.config.Entries {
		if perr := r.writeEntry(ctx, zw, i, req, progress); perr != nil {
			return r.fail(perr, acq, zw), nil
		}
	}

	r.state.to(StateArchiveClosing)
	if err := zw.Close(); err != nil {
		return r.fail(&PhaseError{Phase: types.PhaseArchiveClose, Err: err}, acq, zw), nil
	}
	r.state.to(StateDone)

	r.logger.Info("run completed", map[string]any{
		"outcome":  types.OutcomeSuccess,
		"entries":  len(zw.Records()),
		"bytes":    zw.Offset(),
		"duration": time.Since(r.startTime).String(),
	})
	return r.buildResult(successOutcome(acq.Name), nil, acq, zw), nil
}

// writeEntry fetches one request and streams it into a new entry.
func (r *RunOrchestrator) writeEntry(
	ctx context.Context,
	zw *archive.Writer,
	index int,
	req types.EntryRequest,
	progress *progressDispatcher,
) *PhaseError {
	logger := r.logger.With(map[string]any{"entry": req.Name})
	phaseErr := func(phase types.Phase, err error) *PhaseError {
		return &PhaseError{Phase: phase, Entry: req.Name, URL: req.URL, Err: err}
	}

	logger.Debug("getting url", map[string]any{"url": req.URL})
	body, err := r.config.Fetcher.Fetch(ctx, req.URL)
	if err != nil {
		r.config.Collector.IncFetchFailure()
		return phaseErr(types.PhaseFetch, err)
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			logger.Debug("closing response body failed", map[string]any{"error": cerr.Error()})
		}
	}()

	r.state.to(StateEntryInProgress)
	ew, err := zw.BeginEntry(req.Name)
	if err != nil {
		return phaseErr(types.PhaseEntryBegin, err)
	}
	r.config.Collector.IncEntryStarted()

	for chunk, err := range body.Chunks() {
		if err != nil {
			r.config.Collector.IncFetchFailure()
			return phaseErr(types.PhaseFetch, err)
		}
		r.config.Collector.AddBytesFetched(len(chunk))
		if _, err := ew.Write(chunk); err != nil {
			return phaseErr(types.PhaseEntryWrite, err)
		}
	}

	rec, err := ew.Close()
	if err != nil {
		return phaseErr(types.PhaseEntryClose, err)
	}
	r.state.to(StateArchiveOpen)
	r.config.Collector.IncEntryCompleted()

	logger.Info("Added "+req.Name+" to zip", map[string]any{
		"bytes":  rec.UncompressedSize,
		"crc32":  rec.CRC32,
		"offset": rec.HeaderOffset,
	})
	progress.emit(types.ProgressEvent{
		RunID: r.config.RunMeta.RunID,
		Name:  req.Name,
		Index: index,
		Bytes: rec.UncompressedSize,
	})
	return nil
}

// fail moves the run to failed and releases the sink without finalizing it.
// The archive is left as written; no cleanup is attempted.
func (r *RunOrchestrator) fail(perr *PhaseError, acq *sink.Acquisition, zw *archive.Writer) *RunResult {
	r.state.to(StateFailed)

	if acq != nil {
		if err := acq.Sink.Abort(perr); err != nil && !errors.Is(err, perr) {
			r.logger.Warn("releasing sink failed", map[string]any{"error": err.Error()})
		}
	}

	fields := map[string]any{
		"phase": perr.Phase,
		"error": perr.Err.Error(),
	}
	if perr.Entry != "" {
		fields["entry"] = perr.Entry
		fields["url"] = perr.URL
	}
	r.logger.Error("run failed", fields)

	return r.buildResult(failedOutcome(perr), perr, acq, zw)
}

// buildResult constructs the final run result and records outcome metrics.
func (r *RunOrchestrator) buildResult(
	outcome *types.RunOutcome,
	err error,
	acq *sink.Acquisition,
	zw *archive.Writer,
) *RunResult {
	result := &RunResult{
		RunMeta:  r.config.RunMeta,
		Outcome:  outcome,
		Err:      err,
		Duration: time.Since(r.startTime),
	}
	if acq != nil {
		result.Location = acq.Location
		result.Strategy = acq.Strategy
	}
	if zw != nil {
		result.Entries = zw.Records()
		result.BytesWritten = zw.Offset()
	}

	switch outcome.Status {
	case types.OutcomeSuccess:
		r.config.Collector.IncRunCompleted()
	case types.OutcomeCancelled:
		r.config.Collector.IncRunCancelled()
	case types.OutcomeFailed:
		r.config.Collector.IncRunFailed()
	}

	return result
}

// State returns the current pipeline state.
func (r *RunOrchestrator) State() State {
	return r.state.current
}
