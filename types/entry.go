//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// EntryRequest asks for one archive member: the bytes behind URL stored under Name.
// Requests are immutable and processed in the order the caller supplies them.
type EntryRequest struct {
	// Name is the archive-relative path (forward slashes, no leading slash).
	Name string `yaml:"name" json:"name"`
	// URL is the absolute http(s) source of the entry bytes.
	URL string `yaml:"url" json:"url"`
}

// Validate checks that the name is a valid archive-relative path and the URL
// is an absolute http or https URL.
func (r EntryRequest) Validate() error {
	if r.Name == "" {
		return errors.New("entry name must be non-empty")
	}
	if strings.HasPrefix(r.Name, "/") {
		return fmt.Errorf("entry %q: name must not start with '/'", r.Name)
	}
	if strings.Contains(r.Name, `\`) {
		return fmt.Errorf("entry %q: name must use forward slashes", r.Name)
	}
	if strings.HasSuffix(r.Name, "/") {
		return fmt.Errorf("entry %q: name must not be a directory", r.Name)
	}
	for _, elem := range strings.Split(r.Name, "/") {
		if elem == ".." {
			return fmt.Errorf("entry %q: name must not contain '..'", r.Name)
		}
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("entry %q: invalid url: %w", r.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("entry %q: url scheme must be http or https, got %q", r.Name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("entry %q: url must have a host", r.Name)
	}
	return nil
}

// ErrDuplicateEntry is returned by ValidateEntries when two requests share a name.
var ErrDuplicateEntry = errors.New("duplicate entry name")

// ValidateEntries validates every request and rejects duplicate names.
// An empty request list is valid and produces an empty archive.
func ValidateEntries(entries []EntryRequest) error {
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entry[%d]: %w", i, err)
		}
		if first, dup := seen[e.Name]; dup {
			return fmt.Errorf("entry[%d]: %w: %q (first at entry[%d])", i, ErrDuplicateEntry, e.Name, first)
		}
		seen[e.Name] = i
	}
	return nil
}

// ParseEntryFlag parses the "name=url" form used on the command line.
func ParseEntryFlag(s string) (EntryRequest, error) {
	name, rawURL, ok := strings.Cut(s, "=")
	if !ok || name == "" || rawURL == "" {
		return EntryRequest{}, fmt.Errorf("invalid entry %q: expected name=url", s)
	}
	return EntryRequest{Name: name, URL: rawURL}, nil
}

// EntryRecord is the finalized metadata of one archive member.
// It is produced when the entry is closed and is what the central directory lists.
type EntryRecord struct {
	Name             string `json:"name"`
	CRC32            uint32 `json:"crc32" render:"hex"`
	CompressedSize   uint64 `json:"compressed_size" render:"bytes"`
	UncompressedSize uint64 `json:"uncompressed_size" render:"bytes"`
	// HeaderOffset is the byte offset of the entry's local file header.
	HeaderOffset uint64 `json:"header_offset"`
	// Flags is the general-purpose bit flag written for the entry.
	Flags uint16 `json:"flags"`
}

// ProgressEvent is emitted once per successfully closed entry, in entry order.
// It is purely observational.
type ProgressEvent struct {
	RunID string `msgpack:"run_id" json:"run_id"`
	// Name is the name of the entry that was just closed.
	Name string `msgpack:"name" json:"name"`
	// Index is the zero-based position of the entry in the request list.
	Index int `msgpack:"index" json:"index"`
	// Bytes is the entry's uncompressed size.
	Bytes uint64 `msgpack:"bytes" json:"bytes"`
}
