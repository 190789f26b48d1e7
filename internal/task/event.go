package task

import "github.com/akfullfo/taskforce/internal/config"

// EventBindingType mirrors config.EventConfig.Type.
type EventBindingType string

const (
	EventSelf       EventBindingType = "self"
	EventPython     EventBindingType = "python"
	EventFileChange EventBindingType = "file_change"
	EventStop       EventBindingType = "stop"
	EventRestart    EventBindingType = "restart"
)

// HandlerKind is the tagged discriminant spec.md §9 asks for instead of
// reflection-based dispatch: a handler is either a named command run as a
// one-shot child, or a signal sent to every live pid in the task.
type HandlerKind int

const (
	HandlerCommand HandlerKind = iota
	HandlerSignal
)

// EventBinding is one parsed `events` entry bound to its handler.
type EventBinding struct {
	Type  EventBindingType
	Paths []string

	Kind    HandlerKind
	Command string
	Signal  string
}

// bindEvents parses config.EventConfig entries into EventBindings.
func bindEvents(cfgEvents []config.EventConfig) []EventBinding {
	out := make([]EventBinding, 0, len(cfgEvents))
	for _, e := range cfgEvents {
		b := EventBinding{Type: EventBindingType(e.Type), Paths: e.Paths}
		if e.Signal != "" {
			b.Kind = HandlerSignal
			b.Signal = e.Signal
		} else {
			b.Kind = HandlerCommand
			b.Command = e.Command
		}
		out = append(out, b)
	}
	return out
}

// Binding returns the first event binding of the given type, if any.
func (t *Task) Binding(typ EventBindingType) (EventBinding, bool) {
	for _, b := range t.events {
		if b.Type == typ {
			return b, true
		}
	}
	return EventBinding{}, false
}
