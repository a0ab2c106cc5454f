package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// LedgerDataset is the dataset ID of the run ledger. It lives in the same
// store as the archives, under its own prefix.
const LedgerDataset = "zipline_runs"

// Ledger records finished runs in a Lode dataset partitioned by day and run ID.
type Ledger struct {
	ds lode.Dataset
}

// NewLedger opens the run ledger on factory.
func NewLedger(factory lode.StoreFactory) (*Ledger, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(LedgerDataset),
		factory,
		lode.WithHiveLayout("day", "run_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, LedgerDataset)
	}
	return &Ledger{ds: ds}, nil
}

// Record writes one run record as its own snapshot.
func (l *Ledger) Record(ctx context.Context, r RunRecord) error {
	if r.RunID == "" || r.Day == "" {
		return errors.New("run record requires run_id and day")
	}
	if _, err := l.ds.Write(ctx, []any{toRecordMap(r)}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, LedgerDataset+"/run_id="+r.RunID)
	}
	return nil
}

// LedgerQuery filters ledger reads. Empty fields match everything.
type LedgerQuery struct {
	RunID   string
	Day     string
	Outcome string
	// Limit caps the number of records returned. Zero means no limit.
	Limit int
}

// Query returns matching run records, newest first.
func (l *Ledger) Query(ctx context.Context, q LedgerQuery) ([]RunRecord, error) {
	snapshots, err := l.ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, LedgerDataset+"/snapshots")
	}

	out := []RunRecord{}
	// Snapshots are ordered by creation time; walk them newest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "run_id", q.RunID) || !snapshotMatchesFilter(snap, "day", q.Day) {
			continue
		}

		data, err := l.ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", LedgerDataset, snap.ID))
		}
		// Manifest paths are a coarse pre-filter; record fields are authoritative.
		for _, item := range data {
			r, ok := fromRecordMap(item)
			if !ok || !q.matches(r) {
				continue
			}
			out = append(out, r)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (q LedgerQuery) matches(r RunRecord) bool {
	return (q.RunID == "" || r.RunID == q.RunID) &&
		(q.Day == "" || r.Day == q.Day) &&
		(q.Outcome == "" || r.Outcome == q.Outcome)
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	if snap == nil || snap.Manifest == nil {
		return false
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks if a Hive-partitioned path contains an exact
// key=value segment, so run_id=run-1 does not match run_id=run-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
