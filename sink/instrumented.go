package sink

import (
	"github.com/pithecene-io/zipline/metrics"
)

// InstrumentedSink wraps a Sink and records write and close metrics.
// Each Write call counts once as a success or failure.
type InstrumentedSink struct {
	inner     Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps a sink with metrics instrumentation.
func NewInstrumentedSink(inner Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// Write delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) Write(p []byte) (int, error) {
	n, err := s.inner.Write(p)
	if err != nil {
		s.collector.IncSinkWriteFailure(n)
	} else {
		s.collector.IncSinkWriteSuccess(n)
	}
	return n, err
}

// Close delegates to the inner sink and records a failure.
func (s *InstrumentedSink) Close() error {
	err := s.inner.Close()
	if err != nil {
		s.collector.IncSinkCloseFailure()
	}
	return err
}

// Abort delegates to the inner sink.
func (s *InstrumentedSink) Abort(cause error) error {
	return s.inner.Abort(cause)
}

// Unwrap returns the wrapped sink.
func (s *InstrumentedSink) Unwrap() Sink { return s.inner }

// Verify InstrumentedSink implements Sink.
var _ Sink = (*InstrumentedSink)(nil)
