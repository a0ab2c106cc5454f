package archive

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
)

// VerifiedEntry is the result of re-reading one archive member.
type VerifiedEntry struct {
	Name             string `json:"name" yaml:"name"`
	Method           uint16 `json:"method" yaml:"method"`
	CRC32            uint32 `json:"crc32" yaml:"crc32" render:"hex"`
	CompressedSize   uint64 `json:"compressed_size" yaml:"compressed_size"`
	UncompressedSize uint64 `json:"uncompressed_size" yaml:"uncompressed_size" render:"bytes"`
	OK               bool   `json:"ok" yaml:"ok"`
	Error            string `json:"error,omitempty" yaml:"error,omitempty"`
}

// VerifyReport summarizes an archive check.
type VerifyReport struct {
	Path    string          `json:"path" yaml:"path"`
	Size    int64           `json:"size" yaml:"size" render:"bytes"`
	Comment string          `json:"comment,omitempty" yaml:"comment,omitempty"`
	Entries []VerifiedEntry `json:"entries" yaml:"entries"`
	// Valid is true when every entry read back with a matching CRC.
	Valid bool `json:"valid" yaml:"valid"`
}

// Failed returns the entries that did not verify.
func (r *VerifyReport) Failed() []VerifiedEntry {
	var out []VerifiedEntry
	for _, e := range r.Entries {
		if !e.OK {
			out = append(out, e)
		}
	}
	return out
}

// Verify opens the archive in r through its central directory and reads every
// entry back, checking its CRC-32 and size. A structurally unreadable archive
// is an error; per-entry failures are reported in the result.
func Verify(r io.ReaderAt, size int64) (*VerifyReport, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("archive: open central directory: %w", err)
	}

	report := &VerifyReport{
		Size:    size,
		Comment: zr.Comment,
		Entries: make([]VerifiedEntry, 0, len(zr.File)),
		Valid:   true,
	}
	for _, f := range zr.File {
		entry := VerifiedEntry{
			Name:             f.Name,
			Method:           f.Method,
			CRC32:            f.CRC32,
			CompressedSize:   f.CompressedSize64,
			UncompressedSize: f.UncompressedSize64,
		}
		if err := readEntry(f); err != nil {
			entry.Error = err.Error()
			report.Valid = false
		} else {
			entry.OK = true
		}
		report.Entries = append(report.Entries, entry)
	}
	return report, nil
}

// VerifyFile runs Verify on the archive at path.
func VerifyFile(path string) (*VerifyReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	report, err := Verify(f, info.Size())
	if err != nil {
		return nil, err
	}
	report.Path = path
	return report, nil
}

// readEntry drains f; the zip reader checks CRC and size at EOF.
func readEntry(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	n, err := io.Copy(io.Discard, rc)
	closeErr := rc.Close()
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) {
			return fmt.Errorf("crc mismatch after %d bytes", n)
		}
		return err
	}
	return closeErr
}
