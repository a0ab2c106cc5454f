package lode

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// ErrAborted is reported by Close after Abort.
var ErrAborted = errors.New("upload aborted")

// ObjectWriter streams bytes into a single store object.
//
// Writes feed an io.Pipe whose read end is consumed by Store.Put in a
// background goroutine, so a Write blocks until the store has taken the
// bytes. Close waits for Put to return and reports its error.
type ObjectWriter struct {
	path string
	pw   *io.PipeWriter
	done chan error

	once sync.Once
	err  error
}

// NewObjectWriter starts an upload of path into store.
func NewObjectWriter(ctx context.Context, store lode.Store, path string) *ObjectWriter {
	pr, pw := io.Pipe()
	w := &ObjectWriter{
		path: path,
		pw:   pw,
		done: make(chan error, 1),
	}

	go func() {
		err := store.Put(ctx, path, pr)
		if err != nil {
			// Unblock a writer waiting on a store that stopped reading.
			_ = pr.CloseWithError(err)
		} else {
			_ = pr.Close()
		}
		w.done <- err
	}()

	return w
}

// Path returns the object path.
func (w *ObjectWriter) Path() string { return w.path }

// Write implements io.Writer.
func (w *ObjectWriter) Write(p []byte) (int, error) {
	n, err := w.pw.Write(p)
	if err != nil {
		return n, WrapWriteError(err, w.path)
	}
	return n, nil
}

// Close finishes the upload and waits for the store to commit it.
func (w *ObjectWriter) Close() error {
	return w.finish(nil)
}

// Abort cancels the upload. The store sees a read error and must not
// commit the object.
func (w *ObjectWriter) Abort(cause error) error {
	if cause == nil {
		cause = ErrAborted
	}
	return w.finish(cause)
}

func (w *ObjectWriter) finish(cause error) error {
	w.once.Do(func() {
		if cause != nil {
			_ = w.pw.CloseWithError(cause)
		} else {
			_ = w.pw.Close()
		}
		if err := <-w.done; err != nil {
			w.err = WrapWriteError(err, w.path)
		}
	})
	return w.err
}
