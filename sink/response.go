package sink

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
)

// ResponseStrategy streams the archive as an HTTP download.
type ResponseStrategy struct {
	W http.ResponseWriter
}

// Name implements Strategy.
func (s *ResponseStrategy) Name() string { return "response" }

// Acquire implements Strategy. Headers are set but not sent until the
// first write.
func (s *ResponseStrategy) Acquire(_ context.Context, suggestedName string) (Result, error) {
	if s.W == nil {
		return UnavailableResult("no response writer"), nil
	}
	h := s.W.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": suggestedName}))
	h.Set("X-Content-Type-Options", "nosniff")

	return AcquiredResult(&Acquisition{
		Name:     suggestedName,
		Location: "http response",
		Sink:     &ResponseSink{w: s.W, rc: http.NewResponseController(s.W)},
	}), nil
}

// ResponseSink writes archive bytes into an HTTP response.
type ResponseSink struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	committed bool
	aborted   bool
	done      bool
}

// Committed reports whether any archive byte has been sent. Once committed
// the status can no longer change and a failure can only truncate the body.
// An error answered by Abort does not count.
func (s *ResponseSink) Committed() bool { return s.committed }

// Write implements io.Writer.
func (s *ResponseSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, ErrClosed
	}
	if !s.committed {
		s.committed = true
		s.w.WriteHeader(http.StatusOK)
	}
	return s.w.Write(p)
}

// Close flushes the remaining bytes to the client.
func (s *ResponseSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if !s.committed {
		s.committed = true
		s.w.WriteHeader(http.StatusOK)
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Abort answers 502 with the cause when nothing was sent yet.
func (s *ResponseSink) Abort(cause error) error {
	if s.done {
		return nil
	}
	s.done = true
	if s.committed {
		return nil
	}
	s.aborted = true
	msg := "archive failed"
	if cause != nil {
		msg = cause.Error()
	}
	h := s.w.Header()
	h.Del("Content-Disposition")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(msg)+1))
	s.w.WriteHeader(http.StatusBadGateway)
	_, err := s.w.Write([]byte(msg + "\n"))
	return err
}

// Aborted reports whether Abort answered the request with an error status.
func (s *ResponseSink) Aborted() bool { return s.aborted }

// Verify ResponseSink implements Sink.
var _ Sink = (*ResponseSink)(nil)
