package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/zipline/archive"
	"github.com/pithecene-io/zipline/fetch"
	"github.com/pithecene-io/zipline/log"
	"github.com/pithecene-io/zipline/metrics"
	"github.com/pithecene-io/zipline/sink"
	"github.com/pithecene-io/zipline/types"
)

var centralDirSig = []byte{'P', 'K', 0x01, 0x02}

// memSink is an in-memory sink.Sink. With limit > 0 it rejects any write
// that would grow the buffer past limit.
type memSink struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int
	closeErr error
	closed   bool
	aborted  bool
	cause    error
}

var errSinkFull = errors.New("sink full")

func (s *memSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.buf.Len()+len(p) > s.limit {
		return 0, errSinkFull
	}
	return s.buf.Write(p)
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *memSink) Abort(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	s.cause = cause
	return nil
}

func (s *memSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.buf.Bytes())
}

func (s *memSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// staticAcquirer hands out one sink, or nothing (cancel), or an error.
type staticAcquirer struct {
	sink      *memSink
	err       error
	cancelled bool
	gotName   string
}

func (a *staticAcquirer) Acquire(_ context.Context, name string) (*sink.Acquisition, error) {
	a.gotName = name
	if a.err != nil {
		return nil, a.err
	}
	if a.cancelled {
		return nil, nil
	}
	return &sink.Acquisition{
		Name:     name,
		Location: "mem://" + name,
		Strategy: "mem",
		Sink:     a.sink,
	}, nil
}

// fileServer serves files by path and counts requests. A path mapped to an
// empty body with status set answers with that status.
type fileServer struct {
	*httptest.Server
	hits   atomic.Int64
	files  map[string]string
	status map[string]int
}

func newFileServer(t *testing.T, files map[string]string) *fileServer {
	t.Helper()
	fs := &fileServer{files: files, status: map[string]int{}}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		if code, ok := fs.status[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		body, ok := fs.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fileServer) entries(names ...string) []types.EntryRequest {
	out := make([]types.EntryRequest, len(names))
	for i, name := range names {
		out[i] = types.EntryRequest{Name: name, URL: fs.URL + "/" + name}
	}
	return out
}

func newTestConfig(acq SinkAcquirer, entries []types.EntryRequest) *RunConfig {
	return &RunConfig{
		Entries: entries,
		RunMeta: &types.RunMeta{RunID: "run-001", Attempt: 1},
		Sinks:   acq,
		Fetcher: fetch.New(fetch.WithChunkSize(16)),
		Logger:  log.NewNop(),
	}
}

func execute(t *testing.T, config *RunConfig) *RunResult {
	t.Helper()
	orch, err := NewRunOrchestrator(config)
	require.NoError(t, err)
	result, err := orch.Execute(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Outcome)
	return result
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(b)
	}
	return out
}

func TestRunOrchestrator_SuccessfulRun(t *testing.T) {
	files := map[string]string{
		"/a.txt":      "alpha",
		"/docs/b.txt": strings.Repeat("bravo ", 40),
		"/c.bin":      "charlie",
	}
	server := newFileServer(t, files)
	out := &memSink{}
	acq := &staticAcquirer{sink: out}
	collector := metrics.NewCollector("", "run-001")

	var (
		mu     sync.Mutex
		events []types.ProgressEvent
	)
	config := newTestConfig(acq, server.entries("a.txt", "docs/b.txt", "c.bin"))
	config.Collector = collector
	config.OnProgress = func(ev types.ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	result := execute(t, config)

	assert.Equal(t, types.OutcomeSuccess, result.Outcome.Status)
	assert.Equal(t, "files.zip", result.Outcome.Filename)
	assert.Equal(t, "Written to files.zip!", result.Outcome.Message)
	assert.Equal(t, sink.DefaultName, acq.gotName)
	assert.Equal(t, ExitCodeSuccess, ExitCodeFor(result.Outcome))
	assert.NoError(t, result.Err)
	assert.Equal(t, "mem://files.zip", result.Location)
	assert.Equal(t, "mem", result.Strategy)

	assert.True(t, out.Closed(), "sink should be closed")
	assert.False(t, out.aborted, "sink should not be aborted")
	assert.Equal(t, uint64(len(out.Bytes())), result.BytesWritten)

	got := readZip(t, out.Bytes())
	assert.Equal(t, map[string]string{
		"a.txt":      "alpha",
		"docs/b.txt": strings.Repeat("bravo ", 40),
		"c.bin":      "charlie",
	}, got)

	// Events are delivered before Execute returns, in entry order.
	require.Len(t, events, 3)
	for i, name := range []string{"a.txt", "docs/b.txt", "c.bin"} {
		assert.Equal(t, name, events[i].Name)
		assert.Equal(t, i, events[i].Index)
		assert.Equal(t, "run-001", events[i].RunID)
		assert.Equal(t, uint64(len(files["/"+name])), events[i].Bytes)
	}

	require.Len(t, result.Entries, 3)
	assert.Equal(t, uint64(0), result.Entries[0].HeaderOffset)

	snap := collector.Snapshot()
	assert.Equal(t, int64(1), snap.RunsStarted)
	assert.Equal(t, int64(1), snap.RunsCompleted)
	assert.Equal(t, int64(3), snap.EntriesStarted)
	assert.Equal(t, int64(3), snap.EntriesCompleted)
	assert.Equal(t, int64(5+240+7), snap.BytesFetched)
	assert.Equal(t, int64(len(out.Bytes())), snap.SinkBytesWritten)
	assert.Equal(t, "mem", snap.SinkStrategy)
}

func TestRunOrchestrator_SuggestedName(t *testing.T) {
	server := newFileServer(t, map[string]string{"/a": "x"})
	out := &memSink{}
	acq := &staticAcquirer{sink: out}
	config := newTestConfig(acq, server.entries("a"))
	config.SuggestedName = "photos.zip"

	result := execute(t, config)

	assert.Equal(t, "photos.zip", acq.gotName)
	assert.Equal(t, "Written to photos.zip!", result.Outcome.Message)
}

func TestRunOrchestrator_EmptyEntryList(t *testing.T) {
	out := &memSink{}
	result := execute(t, newTestConfig(&staticAcquirer{sink: out}, nil))

	assert.Equal(t, types.OutcomeSuccess, result.Outcome.Status)
	assert.Empty(t, readZip(t, out.Bytes()))
	// Only the end of central directory record.
	assert.Len(t, out.Bytes(), 22)
}

func TestRunOrchestrator_ZeroByteEntry(t *testing.T) {
	server := newFileServer(t, map[string]string{"/empty": "", "/full": "data"})
	out := &memSink{}

	result := execute(t, newTestConfig(&staticAcquirer{sink: out}, server.entries("empty", "full")))

	require.Equal(t, types.OutcomeSuccess, result.Outcome.Status)
	assert.Equal(t, map[string]string{"empty": "", "full": "data"}, readZip(t, out.Bytes()))
	assert.Equal(t, uint64(0), result.Entries[0].UncompressedSize)
	assert.Equal(t, uint32(0), result.Entries[0].CRC32)
}

func TestRunOrchestrator_Cancelled(t *testing.T) {
	server := newFileServer(t, map[string]string{"/a": "x"})
	out := &memSink{}
	collector := metrics.NewCollector("", "run-001")

	var transitions []string
	config := newTestConfig(&staticAcquirer{sink: out, cancelled: true}, server.entries("a"))
	config.Collector = collector
	config.OnStateChange = func(from, to State) {
		transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
	}

	orch, err := NewRunOrchestrator(config)
	require.NoError(t, err)
	result, err := orch.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeCancelled, result.Outcome.Status)
	assert.Equal(t, ExitCodeCancelled, ExitCodeFor(result.Outcome))
	assert.NoError(t, result.Err)
	assert.Equal(t, StateCancelled, orch.State())
	assert.Equal(t, []string{"idle->cancelled"}, transitions)

	assert.Equal(t, int64(0), server.hits.Load(), "no fetch may be issued")
	assert.Empty(t, out.Bytes())
	assert.Equal(t, int64(1), collector.Snapshot().RunsCancelled)
}

func TestRunOrchestrator_AcquireFailure(t *testing.T) {
	server := newFileServer(t, map[string]string{"/a": "x"})
	acqErr := &sink.AcquisitionError{Err: sink.ErrNoSink}

	result := execute(t, newTestConfig(&staticAcquirer{err: acqErr}, server.entries("a")))

	assert.Equal(t, types.OutcomeFailed, result.Outcome.Status)
	assert.Equal(t, types.PhaseAcquire, result.Outcome.Phase)
	assert.Equal(t, ExitCodeFailed, ExitCodeFor(result.Outcome))
	assert.ErrorIs(t, result.Err, sink.ErrNoSink)
	assert.Equal(t, acqErr.Error(), result.Outcome.Message)
	assert.Equal(t, int64(0), server.hits.Load())
}

func TestRunOrchestrator_FetchFailureAtEntry(t *testing.T) {
	names := []string{"one.txt", "two.txt", "three.txt"}

	for failAt := 1; failAt <= len(names); failAt++ {
		t.Run(fmt.Sprintf("entry_%d", failAt), func(t *testing.T) {
			server := newFileServer(t, map[string]string{
				"/one.txt":   "first",
				"/two.txt":   "second",
				"/three.txt": "third",
			})
			failing := names[failAt-1]
			server.status["/"+failing] = http.StatusNotFound

			out := &memSink{}
			collector := metrics.NewCollector("", "run-001")
			var (
				mu     sync.Mutex
				events []types.ProgressEvent
			)
			config := newTestConfig(&staticAcquirer{sink: out}, server.entries(names...))
			config.Collector = collector
			config.OnProgress = func(ev types.ProgressEvent) {
				mu.Lock()
				events = append(events, ev)
				mu.Unlock()
			}

			result := execute(t, config)

			assert.Equal(t, types.OutcomeFailed, result.Outcome.Status)
			assert.Equal(t, types.PhaseFetch, result.Outcome.Phase)
			assert.Equal(t, failing, result.Outcome.Entry)
			assert.Equal(t, server.URL+"/"+failing, result.Outcome.URL)
			assert.Contains(t, result.Outcome.Message, failing)
			assert.Contains(t, result.Outcome.Message, "404")

			var fetchErr *fetch.FetchError
			require.ErrorAs(t, result.Err, &fetchErr)
			assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)

			assert.Len(t, events, failAt-1)
			assert.Len(t, result.Entries, failAt-1)
			assert.False(t, bytes.Contains(out.Bytes(), centralDirSig), "no central directory may be written")
			assert.False(t, out.Closed(), "sink must not be finalized")
			assert.True(t, out.aborted, "sink should be aborted")
			assert.Equal(t, int64(failAt), server.hits.Load(), "no fetch after the failure")

			snap := collector.Snapshot()
			assert.Equal(t, int64(1), snap.RunsFailed)
			assert.Equal(t, int64(1), snap.FetchFailures)
			assert.Equal(t, int64(failAt-1), snap.EntriesCompleted)
		})
	}
}

func TestRunOrchestrator_MidStreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			_, _ = io.WriteString(w, "fine")
			return
		}
		w.Header().Set("Content-Length", "4096")
		_, _ = io.WriteString(w, strings.Repeat("x", 100))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	t.Cleanup(server.Close)

	out := &memSink{}
	entries := []types.EntryRequest{
		{Name: "ok", URL: server.URL + "/ok"},
		{Name: "broken", URL: server.URL + "/broken"},
	}

	result := execute(t, newTestConfig(&staticAcquirer{sink: out}, entries))

	assert.Equal(t, types.OutcomeFailed, result.Outcome.Status)
	assert.Equal(t, types.PhaseFetch, result.Outcome.Phase)
	assert.Equal(t, "broken", result.Outcome.Entry)
	assert.Len(t, result.Entries, 1)
	assert.False(t, bytes.Contains(out.Bytes(), centralDirSig))
	assert.True(t, out.aborted)
}

func TestRunOrchestrator_ContextCancelled(t *testing.T) {
	server := newFileServer(t, map[string]string{"/a": "x"})
	out := &memSink{}

	orch, err := NewRunOrchestrator(newTestConfig(&staticAcquirer{sink: out}, server.entries("a")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := orch.Execute(ctx)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeFailed, result.Outcome.Status)
	assert.Equal(t, types.PhaseFetch, result.Outcome.Phase)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.True(t, out.aborted)
}

func TestRunOrchestrator_SinkWriteFailure(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		phase types.Phase
	}{
		// The first local header does not fit.
		{name: "header", limit: 10, phase: types.PhaseEntryBegin},
		// The header fits but the entry data does not.
		{name: "data", limit: 60, phase: types.PhaseEntryWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFileServer(t, map[string]string{"/a.txt": strings.Repeat("z", 64)})
			out := &memSink{limit: tt.limit}
			collector := metrics.NewCollector("", "run-001")
			config := newTestConfig(&staticAcquirer{sink: out}, server.entries("a.txt"))
			config.Collector = collector

			result := execute(t, config)

			assert.Equal(t, types.OutcomeFailed, result.Outcome.Status)
			assert.Equal(t, tt.phase, result.Outcome.Phase)
			assert.Equal(t, "a.txt", result.Outcome.Entry)
			assert.ErrorIs(t, result.Err, errSinkFull)

			var writeErr *archive.WriteError
			assert.ErrorAs(t, result.Err, &writeErr)
			assert.True(t, out.aborted)
			assert.GreaterOrEqual(t, collector.Snapshot().SinkWriteFailure, int64(1))
		})
	}
}

func TestRunOrchestrator_SinkCloseFailure(t *testing.T) {
	server := newFileServer(t, map[string]string{"/a": "x"})
	closeErr := errors.New("disk quota exceeded")
	out := &memSink{closeErr: closeErr}
	collector := metrics.NewCollector("", "run-001")
	config := newTestConfig(&staticAcquirer{sink: out}, server.entries("a"))
	config.Collector = collector

	result := execute(t, config)

	assert.Equal(t, types.OutcomeFailed, result.Outcome.Status)
	assert.Equal(t, types.PhaseArchiveClose, result.Outcome.Phase)
	assert.Empty(t, result.Outcome.Entry)
	assert.ErrorIs(t, result.Err, closeErr)
	assert.Contains(t, result.Outcome.Message, "almost certainly did not finish writing")
	assert.Equal(t, int64(1), collector.Snapshot().SinkCloseFailure)
}

func TestRunOrchestrator_Deterministic(t *testing.T) {
	server := newFileServer(t, map[string]string{
		"/a.txt": "alpha",
		"/b.txt": strings.Repeat("beta", 100),
	})

	run := func() []byte {
		out := &memSink{}
		config := newTestConfig(&staticAcquirer{sink: out}, server.entries("a.txt", "b.txt"))
		result := execute(t, config)
		require.Equal(t, types.OutcomeSuccess, result.Outcome.Status)
		return out.Bytes()
	}

	first, second := run(), run()
	assert.Equal(t, first, second, "identical inputs must produce identical archives")
}

func TestRunOrchestrator_StateTransitions(t *testing.T) {
	server := newFileServer(t, map[string]string{"/a": "1", "/b": "2"})
	var transitions []string
	config := newTestConfig(&staticAcquirer{sink: &memSink{}}, server.entries("a", "b"))
	config.OnStateChange = func(from, to State) {
		transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
	}

	orch, err := NewRunOrchestrator(config)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, orch.State())
	_, err = orch.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"idle->sink_acquired",
		"sink_acquired->archive_open",
		"archive_open->entry_in_progress",
		"entry_in_progress->archive_open",
		"archive_open->entry_in_progress",
		"entry_in_progress->archive_open",
		"archive_open->archive_closing",
		"archive_closing->done",
	}, transitions)
	assert.Equal(t, StateDone, orch.State())
}

func TestRunOrchestrator_FailedStateTransitions(t *testing.T) {
	server := newFileServer(t, map[string]string{"/a": "1"})
	var transitions []string
	config := newTestConfig(&staticAcquirer{sink: &memSink{}}, server.entries("a", "missing"))
	config.OnStateChange = func(from, to State) {
		transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
	}

	orch, err := NewRunOrchestrator(config)
	require.NoError(t, err)
	_, err = orch.Execute(context.Background())
	require.NoError(t, err)

	// The fetch of "missing" fails before its entry starts.
	assert.Equal(t, "archive_open->failed", transitions[len(transitions)-1])
	assert.Equal(t, StateFailed, orch.State())
}

func TestRunOrchestrator_SlowObserverDoesNotBlock(t *testing.T) {
	server := newFileServer(t, map[string]string{"/a": "1", "/b": "2", "/c": "3"})
	out := &memSink{}
	release := make(chan struct{})

	var delivered atomic.Int64
	config := newTestConfig(&staticAcquirer{sink: out}, server.entries("a", "b", "c"))
	config.OnProgress = func(types.ProgressEvent) {
		<-release
		delivered.Add(1)
	}

	orch, err := NewRunOrchestrator(config)
	require.NoError(t, err)

	done := make(chan *RunResult, 1)
	go func() {
		result, _ := orch.Execute(context.Background())
		done <- result
	}()

	// The archive completes while the observer is still stuck on the first event.
	require.Eventually(t, out.Closed, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), delivered.Load())

	select {
	case <-done:
		t.Fatal("Execute returned before progress was delivered")
	default:
	}

	close(release)
	result := <-done
	assert.Equal(t, types.OutcomeSuccess, result.Outcome.Status)
	assert.Equal(t, int64(3), delivered.Load())
}

func TestRunOrchestrator_ObserverPanicIsContained(t *testing.T) {
	server := newFileServer(t, map[string]string{"/a": "1"})
	config := newTestConfig(&staticAcquirer{sink: &memSink{}}, server.entries("a"))
	config.OnProgress = func(types.ProgressEvent) { panic("observer bug") }

	result := execute(t, config)
	assert.Equal(t, types.OutcomeSuccess, result.Outcome.Status)
}

func TestNewRunOrchestrator_InvalidConfig(t *testing.T) {
	acq := &staticAcquirer{sink: &memSink{}}
	good := []types.EntryRequest{{Name: "a", URL: "https://example.com/a"}}

	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{name: "nil run meta", mutate: func(c *RunConfig) { c.RunMeta = nil }},
		{name: "bad attempt", mutate: func(c *RunConfig) { c.RunMeta = &types.RunMeta{RunID: "r", Attempt: 0} }},
		{name: "duplicate names", mutate: func(c *RunConfig) {
			c.Entries = append(c.Entries, types.EntryRequest{Name: "a", URL: "https://example.com/other"})
		}},
		{name: "bad url", mutate: func(c *RunConfig) { c.Entries[0].URL = "ftp://example.com/a" }},
		{name: "no sinks", mutate: func(c *RunConfig) { c.Sinks = nil }},
		{name: "no fetcher", mutate: func(c *RunConfig) { c.Fetcher = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := newTestConfig(acq, append([]types.EntryRequest(nil), good...))
			tt.mutate(config)

			_, err := NewRunOrchestrator(config)
			require.Error(t, err)
			assert.True(t, IsInvalidConfig(err), "error should wrap ErrInvalidConfig: %v", err)
		})
	}
}

func TestNewRunOrchestrator_DuplicateNameError(t *testing.T) {
	config := newTestConfig(&staticAcquirer{sink: &memSink{}}, []types.EntryRequest{
		{Name: "a", URL: "https://example.com/1"},
		{Name: "a", URL: "https://example.com/2"},
	})

	_, err := NewRunOrchestrator(config)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDuplicateEntry)
}
