package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when the archive has already been closed.
	ErrClosed = errors.New("archive: writer closed")
	// ErrEntryClosed is returned when writing to or closing a finalized entry.
	ErrEntryClosed = errors.New("archive: entry already closed")
	// ErrEntryOpen is returned when closing the archive while an entry is still open.
	ErrEntryOpen = errors.New("archive: entry still open")
	// ErrZip64Required is returned when an entry, offset or entry count exceeds
	// what a zip32 archive can describe.
	ErrZip64Required = errors.New("archive: size exceeds zip32 limits")
)

// WriteError reports a failure while writing an entry's header or data.
// The entry is aborted.
type WriteError struct {
	Entry string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("archive: write entry %q: %v", e.Entry, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CloseError reports a failure while finalizing an entry or the archive.
// The archive is left in an inconsistent state and cannot be recovered.
// Entry is empty when the archive itself failed to close.
type CloseError struct {
	Entry string
	Err   error
}

func (e *CloseError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("archive: close entry %q: %v", e.Entry, e.Err)
	}
	return fmt.Sprintf("archive: close failed, the archive almost certainly did not finish writing: %v", e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }
