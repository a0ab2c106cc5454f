// Package archive writes a ZIP archive incrementally onto a byte sink.
//
// Entries use the stored method and are streamed without knowing their
// length up front: each local header is written with zeroed CRC and size
// fields and a data descriptor carrying the real values follows the entry
// data. The central directory is written once, when the archive is closed.
//
// The protocol is strict:
//
//	w := archive.Open(sink)
//	ew, err := w.BeginEntry("a.txt")
//	_, err = ew.Write(chunk) // any number of times
//	rec, err := ew.Close()
//	err = w.Close()
//
// At most one entry is open at a time. A Writer is not safe for concurrent use.
package archive

import (
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/pithecene-io/zipline/iox"
	"github.com/pithecene-io/zipline/types"
)

// Option configures a Writer.
type Option func(*Writer)

// WithModTime sets the modification time recorded for every entry.
// The default is the DOS epoch so that identical inputs give identical bytes.
func WithModTime(t time.Time) Option {
	return func(w *Writer) {
		w.modDate, w.modClock = dosTime(t)
	}
}

// WithComment sets the archive comment stored in the end-of-central-directory record.
// Comments longer than 65535 bytes are truncated.
func WithComment(comment string) Option {
	return func(w *Writer) {
		if len(comment) > uint16max {
			comment = comment[:uint16max]
		}
		w.comment = comment
	}
}

// Writer is an archive session bound to one sink.
type Writer struct {
	sink io.WriteCloser
	out  *iox.CountingWriter

	records []types.EntryRecord
	current *EntryWriter

	modDate  uint16
	modClock uint16
	comment  string

	// err is sticky: once the sink rejects a write the archive is unusable.
	err    error
	closed bool
}

// Open binds a Writer to sink. Nothing is written until the first entry begins.
// The Writer owns sink from here on and closes it in Close.
func Open(sink io.WriteCloser, opts ...Option) *Writer {
	w := &Writer{
		sink: sink,
		out:  &iox.CountingWriter{W: sink},
	}
	w.modDate, w.modClock = dosTime(defaultModTime)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// BeginEntry writes the local file header for name and returns the writer
// for its data. The caller must Close the returned EntryWriter before
// beginning another entry; doing otherwise is a programming error and panics.
func (w *Writer) BeginEntry(name string) (*EntryWriter, error) {
	if w.current != nil {
		panic(fmt.Sprintf("archive: BeginEntry(%q) while entry %q is open", name, w.current.name))
	}
	if w.closed {
		return nil, ErrClosed
	}
	if w.err != nil {
		return nil, &WriteError{Entry: name, Err: w.err}
	}
	if len(name) > uint16max {
		return nil, &WriteError{Entry: name, Err: fmt.Errorf("name length %d exceeds %d", len(name), uint16max)}
	}
	if len(w.records) >= uint16max || w.out.N >= uint32max {
		return nil, &WriteError{Entry: name, Err: ErrZip64Required}
	}

	flags := entryFlags(name)
	offset := w.out.N
	if err := w.write(localHeader(name, flags, w.modDate, w.modClock)); err != nil {
		return nil, &WriteError{Entry: name, Err: err}
	}

	w.current = &EntryWriter{
		w:      w,
		name:   name,
		flags:  flags,
		offset: offset,
		crc:    crc32.NewIEEE(),
	}
	return w.current, nil
}

// Close writes the central directory and the end-of-central-directory
// record, then closes the sink. All entries must be closed first.
// Any error means the archive is incomplete.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	if w.current != nil {
		return &CloseError{Err: fmt.Errorf("%w: %q", ErrEntryOpen, w.current.name)}
	}
	w.closed = true

	if w.err != nil {
		return &CloseError{Err: w.err}
	}

	dirOffset := w.out.N
	// 0xFFFFFFFF is the zip64 sentinel, so it is out of range too.
	if dirOffset >= uint32max {
		return &CloseError{Err: ErrZip64Required}
	}
	for _, rec := range w.records {
		hdr := centralHeader(recordFields{
			name:         rec.Name,
			flags:        rec.Flags,
			modDate:      w.modDate,
			modClock:     w.modClock,
			crc:          rec.CRC32,
			compressed:   rec.CompressedSize,
			uncompressed: rec.UncompressedSize,
			offset:       rec.HeaderOffset,
		})
		if err := w.write(hdr); err != nil {
			return &CloseError{Err: err}
		}
	}
	dirSize := w.out.N - dirOffset
	if dirSize >= uint32max {
		return &CloseError{Err: ErrZip64Required}
	}

	if err := w.write(endOfCentralDir(len(w.records), dirSize, dirOffset, w.comment)); err != nil {
		return &CloseError{Err: err}
	}

	if err := w.sink.Close(); err != nil {
		return &CloseError{Err: err}
	}
	return nil
}

// Records returns the finalized entry records in the order they were closed.
func (w *Writer) Records() []types.EntryRecord {
	out := make([]types.EntryRecord, len(w.records))
	copy(out, w.records)
	return out
}

// Offset returns the number of bytes written to the sink so far.
func (w *Writer) Offset() uint64 {
	return w.out.N
}

// write sends p to the sink and records the first failure.
func (w *Writer) write(p []byte) error {
	if w.err != nil {
		return w.err
	}
	if _, err := w.out.Write(p); err != nil {
		w.err = err
		return err
	}
	return nil
}
