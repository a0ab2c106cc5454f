package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("fs", "run-001")

	c.IncRunStarted()
	c.IncRunCompleted()
	c.IncRunFailed()
	c.IncRunFailed()
	c.IncRunCancelled()
	c.IncEntryStarted()
	c.IncEntryStarted()
	c.IncEntryCompleted()
	c.IncFetchFailure()
	c.AddBytesFetched(100)
	c.AddBytesFetched(28)
	c.IncSinkWriteSuccess(30)
	c.IncSinkWriteSuccess(98)
	c.IncSinkWriteFailure(2)
	c.IncSinkCloseFailure()

	s := c.Snapshot()

	if s.RunsStarted != 1 {
		t.Errorf("RunsStarted = %d, want 1", s.RunsStarted)
	}
	if s.RunsCompleted != 1 {
		t.Errorf("RunsCompleted = %d, want 1", s.RunsCompleted)
	}
	if s.RunsFailed != 2 {
		t.Errorf("RunsFailed = %d, want 2", s.RunsFailed)
	}
	if s.RunsCancelled != 1 {
		t.Errorf("RunsCancelled = %d, want 1", s.RunsCancelled)
	}
	if s.EntriesStarted != 2 {
		t.Errorf("EntriesStarted = %d, want 2", s.EntriesStarted)
	}
	if s.EntriesCompleted != 1 {
		t.Errorf("EntriesCompleted = %d, want 1", s.EntriesCompleted)
	}
	if s.FetchFailures != 1 {
		t.Errorf("FetchFailures = %d, want 1", s.FetchFailures)
	}
	if s.BytesFetched != 128 {
		t.Errorf("BytesFetched = %d, want 128", s.BytesFetched)
	}
	if s.SinkWriteSuccess != 2 {
		t.Errorf("SinkWriteSuccess = %d, want 2", s.SinkWriteSuccess)
	}
	if s.SinkWriteFailure != 1 {
		t.Errorf("SinkWriteFailure = %d, want 1", s.SinkWriteFailure)
	}
	if s.SinkBytesWritten != 130 {
		t.Errorf("SinkBytesWritten = %d, want 130", s.SinkBytesWritten)
	}
	if s.SinkCloseFailure != 1 {
		t.Errorf("SinkCloseFailure = %d, want 1", s.SinkCloseFailure)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("s3", "run-42")
	c.SetSinkStrategy("store")
	s := c.Snapshot()

	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
	if s.RunID != "run-42" {
		t.Errorf("RunID = %q, want %q", s.RunID, "run-42")
	}
	if s.SinkStrategy != "store" {
		t.Errorf("SinkStrategy = %q, want %q", s.SinkStrategy, "store")
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("", "run-001")
	c.IncRunStarted()
	c.IncSinkWriteSuccess(10)

	s1 := c.Snapshot()

	c.IncRunCompleted()
	c.IncSinkWriteSuccess(10)
	c.IncSinkWriteSuccess(10)

	if s1.RunsCompleted != 0 {
		t.Errorf("s1.RunsCompleted = %d, want 0 (snapshot should be frozen)", s1.RunsCompleted)
	}
	if s1.SinkWriteSuccess != 1 {
		t.Errorf("s1.SinkWriteSuccess = %d, want 1 (snapshot should be frozen)", s1.SinkWriteSuccess)
	}

	s2 := c.Snapshot()
	if s2.RunsCompleted != 1 {
		t.Errorf("s2.RunsCompleted = %d, want 1", s2.RunsCompleted)
	}
	if s2.SinkWriteSuccess != 3 {
		t.Errorf("s2.SinkWriteSuccess = %d, want 3", s2.SinkWriteSuccess)
	}
	if s2.SinkBytesWritten != 30 {
		t.Errorf("s2.SinkBytesWritten = %d, want 30", s2.SinkBytesWritten)
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.SetSinkStrategy("file")
	c.IncRunStarted()
	c.IncRunCompleted()
	c.IncRunFailed()
	c.IncRunCancelled()
	c.IncEntryStarted()
	c.IncEntryCompleted()
	c.IncFetchFailure()
	c.AddBytesFetched(1)
	c.IncSinkWriteSuccess(1)
	c.IncSinkWriteFailure(1)
	c.IncSinkCloseFailure()

	s := c.Snapshot()
	if s != (Snapshot{}) {
		t.Errorf("nil collector snapshot = %+v, want zero value", s)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("", "run-001")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncEntryStarted()
				c.AddBytesFetched(2)
				c.IncSinkWriteSuccess(1)
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.EntriesStarted != want {
		t.Errorf("EntriesStarted = %d, want %d", s.EntriesStarted, want)
	}
	if s.BytesFetched != 2*want {
		t.Errorf("BytesFetched = %d, want %d", s.BytesFetched, 2*want)
	}
	if s.SinkBytesWritten != want {
		t.Errorf("SinkBytesWritten = %d, want %d", s.SinkBytesWritten, want)
	}
}
