package archive

import (
	"hash"

	"github.com/pithecene-io/zipline/types"
)

// EntryWriter streams the data of one open entry.
// It tracks the running CRC-32 and byte count that the data descriptor
// records when the entry is closed.
type EntryWriter struct {
	w      *Writer
	name   string
	flags  uint16
	offset uint64
	crc    hash.Hash32
	size   uint64
	done   bool
}

// Name returns the entry name.
func (e *EntryWriter) Name() string { return e.name }

// Size returns the number of data bytes written so far.
func (e *EntryWriter) Size() uint64 { return e.size }

// Write appends p to the entry. It blocks for as long as the sink does.
// Errors are *WriteError and abort the entry.
func (e *EntryWriter) Write(p []byte) (int, error) {
	if e.done {
		return 0, &WriteError{Entry: e.name, Err: ErrEntryClosed}
	}
	if e.size+uint64(len(p)) >= uint32max {
		return 0, &WriteError{Entry: e.name, Err: ErrZip64Required}
	}
	if e.w.err != nil {
		return 0, &WriteError{Entry: e.name, Err: e.w.err}
	}

	n, err := e.w.out.Write(p)
	// Only bytes the sink accepted count towards the checksum and size.
	e.crc.Write(p[:n])
	e.size += uint64(n)
	if err != nil {
		e.w.err = err
		return n, &WriteError{Entry: e.name, Err: err}
	}
	return n, nil
}

// Close writes the data descriptor and finalizes the entry record.
// An error leaves the archive unrecoverable.
func (e *EntryWriter) Close() (types.EntryRecord, error) {
	if e.done {
		return types.EntryRecord{}, &CloseError{Entry: e.name, Err: ErrEntryClosed}
	}
	e.done = true
	e.w.current = nil

	crc := e.crc.Sum32()
	if err := e.w.write(dataDescriptor(crc, e.size)); err != nil {
		return types.EntryRecord{}, &CloseError{Entry: e.name, Err: err}
	}

	rec := types.EntryRecord{
		Name:             e.name,
		CRC32:            crc,
		CompressedSize:   e.size,
		UncompressedSize: e.size,
		HeaderOffset:     e.offset,
		Flags:            e.flags,
	}
	e.w.records = append(e.w.records, rec)
	return rec, nil
}
