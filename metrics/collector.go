// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single run. It is a leaf package
// with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`
	RunsFailed    int64 `json:"runs_failed"`
	RunsCancelled int64 `json:"runs_cancelled"`

	// Entries
	EntriesStarted   int64 `json:"entries_started"`
	EntriesCompleted int64 `json:"entries_completed"`
	FetchFailures    int64 `json:"fetch_failures"`
	BytesFetched     int64 `json:"bytes_fetched"`

	// Sink
	SinkWriteSuccess int64 `json:"sink_write_success"`
	SinkWriteFailure int64 `json:"sink_write_failure"`
	SinkBytesWritten int64 `json:"sink_bytes_written"`
	SinkCloseFailure int64 `json:"sink_close_failure"`

	// Dimensions
	SinkStrategy   string `json:"sink_strategy,omitempty"`
	StorageBackend string `json:"storage_backend,omitempty"`
	RunID          string `json:"run_id,omitempty"`
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe, so a nil
// *Collector disables collection.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsCompleted int64
	runsFailed    int64
	runsCancelled int64

	entriesStarted   int64
	entriesCompleted int64
	fetchFailures    int64
	bytesFetched     int64

	sinkWriteSuccess int64
	sinkWriteFailure int64
	sinkBytesWritten int64
	sinkCloseFailure int64

	sinkStrategy   string
	storageBackend string
	runID          string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend is empty unless the store sink is configured.
func NewCollector(storageBackend, runID string) *Collector {
	return &Collector{
		storageBackend: storageBackend,
		runID:          runID,
	}
}

// SetSinkStrategy records which sink strategy produced the sink.
// It is only known once acquisition succeeds.
func (c *Collector) SetSinkStrategy(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sinkStrategy = name
	c.mu.Unlock()
}

// --- Run lifecycle ---

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.add(&c.runsStarted, 1)
}

// IncRunCompleted records a successful run.
func (c *Collector) IncRunCompleted() {
	if c == nil {
		return
	}
	c.add(&c.runsCompleted, 1)
}

// IncRunFailed records a failed run.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.add(&c.runsFailed, 1)
}

// IncRunCancelled records a run the user cancelled at acquisition.
func (c *Collector) IncRunCancelled() {
	if c == nil {
		return
	}
	c.add(&c.runsCancelled, 1)
}

// --- Entries ---

// IncEntryStarted records an entry whose fetch succeeded and header was written.
func (c *Collector) IncEntryStarted() {
	if c == nil {
		return
	}
	c.add(&c.entriesStarted, 1)
}

// IncEntryCompleted records a closed entry.
func (c *Collector) IncEntryCompleted() {
	if c == nil {
		return
	}
	c.add(&c.entriesCompleted, 1)
}

// IncFetchFailure records a failed GET or body read.
func (c *Collector) IncFetchFailure() {
	if c == nil {
		return
	}
	c.add(&c.fetchFailures, 1)
}

// AddBytesFetched records n body bytes received.
func (c *Collector) AddBytesFetched(n int) {
	if c == nil {
		return
	}
	c.add(&c.bytesFetched, int64(n))
}

// --- Sink ---
// Sink counters are per-call: one Write counts once regardless of its size.

// IncSinkWriteSuccess records a successful sink write of n bytes.
func (c *Collector) IncSinkWriteSuccess(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sinkWriteSuccess++
	c.sinkBytesWritten += int64(n)
	c.mu.Unlock()
}

// IncSinkWriteFailure records a rejected sink write. Bytes accepted before
// the failure still count as written.
func (c *Collector) IncSinkWriteFailure(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sinkWriteFailure++
	c.sinkBytesWritten += int64(n)
	c.mu.Unlock()
}

// IncSinkCloseFailure records a sink that failed to close.
func (c *Collector) IncSinkCloseFailure() {
	if c == nil {
		return
	}
	c.add(&c.sinkCloseFailure, 1)
}

// add requires a non-nil receiver.
func (c *Collector) add(counter *int64, n int64) {
	c.mu.Lock()
	*counter += n
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsCompleted: c.runsCompleted,
		RunsFailed:    c.runsFailed,
		RunsCancelled: c.runsCancelled,

		EntriesStarted:   c.entriesStarted,
		EntriesCompleted: c.entriesCompleted,
		FetchFailures:    c.fetchFailures,
		BytesFetched:     c.bytesFetched,

		SinkWriteSuccess: c.sinkWriteSuccess,
		SinkWriteFailure: c.sinkWriteFailure,
		SinkBytesWritten: c.sinkBytesWritten,
		SinkCloseFailure: c.sinkCloseFailure,

		SinkStrategy:   c.sinkStrategy,
		StorageBackend: c.storageBackend,
		RunID:          c.runID,
	}
}
