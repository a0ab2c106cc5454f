package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PartSuffix is appended to a file while its archive is being written.
const PartSuffix = ".part"

const fileBufferSize = 64 * 1024

// maxNameAttempts bounds the search for a free "name (n).ext" variant.
const maxNameAttempts = 1000

// FileStrategy writes the archive into a directory without asking the user.
// It is always available. When the suggested name is taken and Overwrite is
// off, it picks the first free "name (n).ext" instead, as a browser download
// would.
type FileStrategy struct {
	// Dir is the destination directory. Empty means the working directory.
	Dir string
	// Overwrite allows replacing an existing archive.
	Overwrite bool
}

// Name implements Strategy.
func (s *FileStrategy) Name() string { return "file" }

// Acquire implements Strategy.
func (s *FileStrategy) Acquire(_ context.Context, suggestedName string) (Result, error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, suggestedName)
	if !s.Overwrite {
		free, err := freePath(path)
		if err != nil {
			return Result{}, err
		}
		path = free
	}
	fs, err := openFileSink(path, s.Overwrite)
	if err != nil {
		return Result{}, err
	}
	return AcquiredResult(&Acquisition{
		Name:     filepath.Base(fs.path),
		Location: fs.path,
		Sink:     fs,
	}), nil
}

// freePath returns path, or "base (n).ext" for the smallest n whose archive
// and part file both do not exist yet.
func freePath(path string) (string, error) {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := range maxNameAttempts {
		candidate := path
		if n > 0 {
			candidate = stem + " (" + strconv.Itoa(n) + ")" + ext
		}
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			if taken, err = exists(candidate + PartSuffix); err != nil {
				return "", err
			}
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", path, maxNameAttempts)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// FileSink writes to <path>.part and renames it to <path> on Close.
// An aborted run leaves the .part file behind.
type FileSink struct {
	path string
	f    *os.File
	bw   *bufio.Writer
	done bool
}

func openFileSink(path string, overwrite bool) (*FileSink, error) {
	if !overwrite {
		taken, err := exists(path)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%s already exists", path)
		}
	}

	f, err := os.OpenFile(path+PartSuffix, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{
		path: path,
		f:    f,
		bw:   bufio.NewWriterSize(f, fileBufferSize),
	}, nil
}

// Path returns the final archive path.
func (s *FileSink) Path() string { return s.path }

// Write implements io.Writer.
func (s *FileSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, ErrClosed
	}
	return s.bw.Write(p)
}

// Close flushes and syncs the part file, then moves it into place.
func (s *FileSink) Close() error {
	if s.done {
		return ErrClosed
	}
	s.done = true

	if err := s.bw.Flush(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("flush %s: %w", s.f.Name(), err)
	}
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("sync %s: %w", s.f.Name(), err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.f.Name(), err)
	}
	if err := os.Rename(s.path+PartSuffix, s.path); err != nil {
		return fmt.Errorf("rename to %s: %w", s.path, err)
	}
	return nil
}

// Abort flushes what was written and closes the part file without renaming it.
func (s *FileSink) Abort(_ error) error {
	if s.done {
		return nil
	}
	s.done = true
	flushErr := s.bw.Flush()
	return errors.Join(flushErr, s.f.Close())
}

// Verify FileSink implements Sink.
var _ Sink = (*FileSink)(nil)
