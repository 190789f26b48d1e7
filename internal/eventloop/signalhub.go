package eventloop

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalKind classifies a delivered OS signal the way the Legion's main
// loop dispatches it (spec.md §4.2).
type SignalKind int

const (
	SignalReap   SignalKind = iota // SIGCHLD: reap children
	SignalReset                    // SIGHUP: graceful shutdown then reset
	SignalExit                     // SIGINT/SIGTERM: graceful shutdown then exit
	SignalRelay                    // any task-declared `signal` event: propagate to tasks
)

// SignalEvent is the payload carried on the self-pipe object registered
// with the Poller.
type SignalEvent struct {
	Kind   SignalKind
	Signal os.Signal
}

// signalHubKey is the object identity SignalHub registers itself under.
type signalHubKey struct{}

// SignalHub bridges os/signal delivery into a Poller-compatible Source, the
// Go analogue of spec.md §4.2's self-pipe: signal.Notify already does the
// "write one byte from a restartable handler" job atomically and safely
// from within the Go runtime, so no raw pipe is needed, but the external
// contract (a single object the Poller can wait on, one SignalEvent per
// delivery) is preserved.
type SignalHub struct {
	mu      sync.Mutex
	ch      chan os.Signal
	relayed map[os.Signal]bool
}

// NewSignalHub installs handlers for SIGCHLD, SIGHUP, SIGINT, SIGTERM, plus
// any additional signals named by task `signal` events (spec.md §4.2).
func NewSignalHub(extra ...os.Signal) *SignalHub {
	sigs := []os.Signal{syscall.SIGCHLD, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM}
	relayed := make(map[os.Signal]bool)
	for _, s := range extra {
		sigs = append(sigs, s)
		relayed[s] = true
	}

	ch := make(chan os.Signal, 64)
	signal.Notify(ch, sigs...)

	return &SignalHub{ch: ch, relayed: relayed}
}

// Key is the object this hub should be registered under in a Poller.
func (h *SignalHub) Key() any { return signalHubKey{} }

// Watch implements Source: it classifies each delivered signal and forwards
// one SignalEvent per signal, wrapped in an eventloop.Event, until ctx is
// cancelled. This is the sole consumer of the underlying signal channel.
func (h *SignalHub) Watch(ctx context.Context, out chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-h.ch:
			if !ok {
				return
			}
			out <- Event{Object: SignalEvent{Kind: h.classify(sig), Signal: sig}, Mask: In}
		}
	}
}

// classify reports a received signal's dispatch kind (spec.md §4.2).
func (h *SignalHub) classify(sig os.Signal) SignalKind {
	switch sig {
	case syscall.SIGCHLD:
		return SignalReap
	case syscall.SIGHUP:
		return SignalReset
	case syscall.SIGINT, syscall.SIGTERM:
		return SignalExit
	default:
		return SignalRelay
	}
}

// Stop reverts to default signal handling for every signal this hub
// installed (spec.md §4.2: "all handlers are restored to their entry
// dispositions on shutdown").
func (h *SignalHub) Stop() {
	signal.Stop(h.ch)
	close(h.ch)
}
