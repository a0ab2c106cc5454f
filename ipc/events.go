package ipc

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pithecene-io/zipline/types"
)

// EventWriter writes the events stream for one run.
// It is safe for concurrent use; frames are written whole and in Seq order.
type EventWriter struct {
	mu      sync.Mutex
	w       io.Writer
	runMeta *types.RunMeta
	seq     int64
	now     func() time.Time
	err     error
}

// NewEventWriter creates an events stream writer for a run.
func NewEventWriter(w io.Writer, runMeta *types.RunMeta) *EventWriter {
	return &EventWriter{w: w, runMeta: runMeta, now: time.Now}
}

// WriteProgress writes a progress frame.
func (e *EventWriter) WriteProgress(ev types.ProgressEvent) error {
	return e.write(types.EventTypeProgress, func(env *types.EventEnvelope) {
		env.Progress = &ev
	})
}

// WriteOutcome writes the terminal outcome frame. Nothing may follow it.
func (e *EventWriter) WriteOutcome(outcome *types.RunOutcome) error {
	return e.write(types.EventTypeOutcome, func(env *types.EventEnvelope) {
		env.Outcome = outcome
	})
}

// Err returns the first write error, if any. Once a write fails every later
// write is skipped.
func (e *EventWriter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *EventWriter) write(eventType types.EventType, fill func(*types.EventEnvelope)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}

	e.seq++
	env := &types.EventEnvelope{
		ContractVersion: types.ContractVersion,
		RunID:           e.runMeta.RunID,
		Seq:             e.seq,
		Type:            eventType,
		Ts:              e.now().UTC().Format(time.RFC3339Nano),
		ParentRunID:     e.runMeta.ParentRunID,
		Attempt:         e.runMeta.Attempt,
	}
	fill(env)

	frame, err := EncodeEventEnvelope(env)
	if err != nil {
		e.err = err
		return err
	}
	if _, err := e.w.Write(frame); err != nil {
		e.err = fmt.Errorf("write %s frame: %w", eventType, err)
		return e.err
	}
	return nil
}
