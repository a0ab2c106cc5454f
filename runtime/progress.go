package runtime

import (
	"fmt"
	"sync"

	"github.com/pithecene-io/zipline/log"
	"github.com/pithecene-io/zipline/types"
)

// ProgressObserver receives one event per closed entry, in entry order.
type ProgressObserver func(types.ProgressEvent)

// progressDispatcher delivers progress events on its own goroutine so a
// slow observer never blocks the pipeline. The queue is unbounded.
type progressDispatcher struct {
	observer ProgressObserver
	logger   *log.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []types.ProgressEvent
	closed bool
	done   chan struct{}
}

func newProgressDispatcher(observer ProgressObserver, logger *log.Logger) *progressDispatcher {
	d := &progressDispatcher{
		observer: observer,
		logger:   logger,
		done:     make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	if observer == nil {
		close(d.done)
		return d
	}
	go d.loop()
	return d
}

// emit queues ev and returns immediately.
func (d *progressDispatcher) emit(ev types.ProgressEvent) {
	if d.observer == nil {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	d.cond.Signal()
}

// close waits until every queued event has been delivered.
func (d *progressDispatcher) close() {
	if d.observer != nil {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		d.cond.Signal()
	}
	<-d.done
}

func (d *progressDispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(ev)
	}
}

func (d *progressDispatcher) deliver(ev types.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("progress observer panicked", map[string]any{
				"entry": ev.Name,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	d.observer(ev)
}
