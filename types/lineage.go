// Package types defines core domain types for zipline.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"regexp"
)

// runIDPattern keeps run IDs usable as a path segment and a Hive
// partition value (run_id=<id>) in every store backend.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// RunMeta is the identity of one run. A failed run is never resumed; it is
// restarted as a new attempt that names the run it replaces.
type RunMeta struct {
	RunID string
	// ParentRunID is nil for initial runs.
	ParentRunID *string
	// Attempt starts at 1.
	Attempt int
}

// Validate checks run identity and lineage:
//   - run_id (and parent_run_id) match [A-Za-z0-9][A-Za-z0-9._-]*, at most 128 chars
//   - attempt 1 has no parent, later attempts require one
//   - a run is not its own parent
func (r *RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	if !runIDPattern.MatchString(r.RunID) {
		return fmt.Errorf("run_id %q must be letters, digits, '.', '_' or '-' (max 128)", r.RunID)
	}

	if r.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1, got %d", r.Attempt)
	}

	switch {
	case r.Attempt == 1 && r.ParentRunID != nil:
		return errors.New("initial run (attempt=1) must not have parent_run_id")
	case r.Attempt > 1 && r.ParentRunID == nil:
		return fmt.Errorf("restarted run (attempt=%d) must have parent_run_id", r.Attempt)
	case r.ParentRunID != nil && !runIDPattern.MatchString(*r.ParentRunID):
		return fmt.Errorf("parent_run_id %q is not a valid run id", *r.ParentRunID)
	case r.ParentRunID != nil && *r.ParentRunID == r.RunID:
		return errors.New("run cannot be its own parent")
	}
	return nil
}

// Parent returns the parent run ID, or "" for an initial run.
func (r *RunMeta) Parent() string {
	if r.ParentRunID == nil {
		return ""
	}
	return *r.ParentRunID
}
