package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Options controls dispatcher buffering behavior.
type Options struct {
	Enabled    bool
	BufferSize int
	// DropIfFull trades completeness for latency: when the buffer is full,
	// Emit increments the dropped counter instead of blocking the request.
	DropIfFull bool
}

// Dispatcher forwards audit events to a sink on a dedicated goroutine.
// A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	opts    Options
	sink    Sink
	ch      chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
}

// NewDispatcher starts the dispatch goroutine. Returns nil when disabled.
func NewDispatcher(opts Options, sink Sink) *Dispatcher {
	if !opts.Enabled {
		return nil
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		opts: opts,
		sink: sink,
		ch:   make(chan Event, opts.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit queues an event for asynchronous delivery.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.opts.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops the dispatcher after draining buffered events.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded under DropIfFull pressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
