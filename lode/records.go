package lode

import "time"

// RecordKindRun discriminates run ledger records.
const RecordKindRun = "run"

// RunRecord is one finished run in the ledger. Day and RunID double as the
// Hive partition keys.
type RunRecord struct {
	RunID        string `json:"run_id"`
	ParentRunID  string `json:"parent_run_id,omitempty"`
	Attempt      int    `json:"attempt"`
	Outcome      string `json:"outcome"`
	Message      string `json:"message"`
	Phase        string `json:"phase,omitempty"`
	Entry        string `json:"entry,omitempty"`
	Filename     string `json:"filename,omitempty"`
	Location     string `json:"location,omitempty"`
	SinkStrategy string `json:"sink_strategy,omitempty"`
	EntryCount   int    `json:"entry_count"`
	BytesWritten uint64 `json:"bytes_written" render:"bytes"`
	DurationMs   int64  `json:"duration_ms"`
	CompletedAt  string `json:"completed_at"`
	Day          string `json:"day"`
}

// NewRunRecord stamps r with its completion time and partition day.
func NewRunRecord(r RunRecord, completedAt time.Time) RunRecord {
	r.CompletedAt = completedAt.UTC().Format(time.RFC3339)
	r.Day = DeriveDay(completedAt)
	return r
}

// toRecordMap converts a RunRecord to the map form written to the dataset.
func toRecordMap(r RunRecord) map[string]any {
	m := map[string]any{
		"record_kind":   RecordKindRun,
		"run_id":        r.RunID,
		"attempt":       r.Attempt,
		"outcome":       r.Outcome,
		"message":       r.Message,
		"entry_count":   r.EntryCount,
		"bytes_written": r.BytesWritten,
		"duration_ms":   r.DurationMs,
		"completed_at":  r.CompletedAt,
		"day":           r.Day,
	}
	optional := map[string]string{
		"parent_run_id": r.ParentRunID,
		"phase":         r.Phase,
		"entry":         r.Entry,
		"filename":      r.Filename,
		"location":      r.Location,
		"sink_strategy": r.SinkStrategy,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// fromRecordMap reads a RunRecord back from a decoded dataset item.
// ok is false for items that are not run records.
func fromRecordMap(item any) (RunRecord, bool) {
	m, ok := item.(map[string]any)
	if !ok || m["record_kind"] != RecordKindRun {
		return RunRecord{}, false
	}
	return RunRecord{
		RunID:        toString(m["run_id"]),
		ParentRunID:  toString(m["parent_run_id"]),
		Attempt:      int(toInt64(m["attempt"])),
		Outcome:      toString(m["outcome"]),
		Message:      toString(m["message"]),
		Phase:        toString(m["phase"]),
		Entry:        toString(m["entry"]),
		Filename:     toString(m["filename"]),
		Location:     toString(m["location"]),
		SinkStrategy: toString(m["sink_strategy"]),
		EntryCount:   int(toInt64(m["entry_count"])),
		BytesWritten: uint64(toInt64(m["bytes_written"])),
		DurationMs:   toInt64(m["duration_ms"]),
		CompletedAt:  toString(m["completed_at"]),
		Day:          toString(m["day"]),
	}, true
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 converts a decoded JSON number to int64.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}
