package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Tally counts the events of one recovery event type.
type Tally struct {
	Emitted uint64
	Dropped uint64
}

// Dispatcher asynchronously forwards audit events to a sink.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	emitted   atomic.Uint64
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	mu      sync.Mutex
	tallies map[string]Tally
}

// NewDispatcher returns nil when auditing is disabled; a nil Dispatcher ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:      make(chan Event, cfg.BufferSize),
		done:    make(chan struct{}),
		tallies: map[string]Tally{},
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	deliver := func(event Event) {
		d.sink.Emit(context.Background(), event)
		d.emitted.Add(1)
		d.count(event.EventType, func(t *Tally) { t.Emitted++ })
	}
	for {
		select {
		case event := <-d.ch:
			deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					deliver(event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues event. With DropIfFull a full buffer drops successful transitions and counts
// them. Failed transitions, like every event without DropIfFull, wait until there is room,
// ctx ends or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull && event.Success {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.drop(event)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.drop(event)
	case <-d.done:
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	d.count(event.EventType, func(t *Tally) { t.Dropped++ })
}

func (d *Dispatcher) count(eventType string, update func(*Tally)) {
	d.mu.Lock()
	t := d.tallies[eventType]
	update(&t)
	d.tallies[eventType] = t
	d.mu.Unlock()
}

// Tallies returns a copy of the per event type counts.
func (d *Dispatcher) Tallies() map[string]Tally {
	if d == nil {
		return map[string]Tally{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]Tally, len(d.tallies))
	for k, v := range d.tallies {
		out[k] = v
	}
	return out
}

// Close drains buffered events and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Emitted() uint64 {
	if d == nil {
		return 0
	}
	return d.emitted.Load()
}
