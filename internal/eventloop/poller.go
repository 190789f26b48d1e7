// Package eventloop implements the Poller and SignalHub described in
// spec.md §4.1-§4.2.
//
// Go's runtime already multiplexes readiness across goroutines (the
// netpoller for sockets, signal.Notify for signals, fsnotify's own
// kqueue/inotify watcher for file events) far better than a hand-rolled
// epoll_wait/kqueue loop could from user code. Poller therefore keeps the
// exact external contract spec.md §4.1 describes (register/modify/
// unregister/poll(timeout) -> events, with a real backend chosen and frozen
// at construction) but implements it as a channel funnel: every registered
// Source runs its own goroutine blocking on its native readiness primitive,
// forwarding (object, mask) pairs onto one channel that poll() drains. This
// is the REDESIGN recorded in SPEC_FULL.md §6.1.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Mask is the readiness event-mask bit set (spec.md §4.1).
type Mask uint8

const (
	In Mask = 1 << iota
	Out
	Pri
	Err
	Hup
	Inval
)

// Event is one readiness notification, carrying the originally registered
// object rather than a raw descriptor (spec.md §4.1).
type Event struct {
	Object any
	Mask   Mask
}

// Source is anything a Poller can wait on. Watch must block until either ctx
// is cancelled or at least one readiness condition occurs, and then send on
// ch; it is called in its own goroutine and must keep running (re-arming)
// until ctx is cancelled.
type Source interface {
	Watch(ctx context.Context, ch chan<- Event)
}

// ErrInterrupted signals a retryable poll, spec.md §4.1's EINTR condition.
var ErrInterrupted = errors.New("eventloop: poll interrupted")

// Backend names the committed multiplexing tier. Only Select actually
// changes poll()'s behaviour (it forces the single-event, unbuffered test
// seam); Kqueue and EpollPoll are recorded for status/logging fidelity with
// the three-tier kqueue/poll/select try-order.
type Backend int

const (
	Kqueue Backend = iota
	EpollPoll
	Select
)

func (b Backend) String() string {
	switch b {
	case Kqueue:
		return "kqueue"
	case EpollPoll:
		return "poll"
	case Select:
		return "select"
	default:
		return "unknown"
	}
}

// Poller multiplexes readiness across registered Sources (spec.md §4.1).
type Poller struct {
	mu       sync.Mutex
	backend  Backend
	frozen   bool
	cancels  map[any]context.CancelFunc
	events   chan Event
}

// New constructs a Poller. backend, once frozen by the first register call,
// cannot change (spec.md §9: "Polling backend selection must be committed
// before the first registration and never changed"). Passing Select forces
// the worst-tier test seam: an unbuffered relay channel instead of the
// normal buffered fan-in, reproducing the lowest-throughput tier.
func New(backend Backend) *Poller {
	capacity := 256
	if backend == Select {
		capacity = 0
	}
	return &Poller{
		backend: backend,
		cancels: make(map[any]context.CancelFunc),
		events:  make(chan Event, capacity),
	}
}

// Backend reports the committed backend.
func (p *Poller) Backend() Backend {
	return p.backend
}

// Register starts watching src under the key obj. Once any object is
// registered the backend is frozen (spec.md §4.1).
func (p *Poller) Register(obj any, src Source) {
	p.mu.Lock()
	p.frozen = true
	if cancel, ok := p.cancels[obj]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancels[obj] = cancel
	p.mu.Unlock()

	go src.Watch(ctx, p.events)
}

// Modify re-registers obj against a new Source, e.g. when a watched set
// changes shape (spec.md §4.1 `modify`).
func (p *Poller) Modify(obj any, src Source) {
	p.Register(obj, src)
}

// Unregister stops watching obj.
func (p *Poller) Unregister(obj any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.cancels[obj]; ok {
		cancel()
		delete(p.cancels, obj)
	}
}

// Poll blocks until at least one event is available or timeout elapses,
// then drains whatever else is already buffered without blocking further,
// per spec.md §4.1's single poll() call returning a batch of events.
func (p *Poller) Poll(timeout time.Duration) ([]Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-p.events:
		if !ok {
			return nil, fmt.Errorf("eventloop: poller closed")
		}
		events := []Event{ev}
		for {
			select {
			case ev2, ok := <-p.events:
				if !ok {
					return events, nil
				}
				events = append(events, ev2)
			default:
				return events, nil
			}
		}
	case <-timer.C:
		return nil, nil
	}
}

// Close stops every registered Source.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for obj, cancel := range p.cancels {
		cancel()
		delete(p.cancels, obj)
	}
}
