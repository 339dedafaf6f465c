package synapse

import "fmt"

// Event names a class of envelopes observers can subscribe to.
type Event string

const (
	EventConnect    Event = "connect"
	EventDisconnect Event = "disconnect"
	EventMessage    Event = "message"
	EventError      Event = "error"
)

// Handler observes envelopes. Handlers run synchronously on the emitting
// goroutine and must not block.
type Handler func(Envelope)

// On registers a handler for event.
func (s *Synapse) On(event Event, h Handler) *Synapse {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
	return s
}

func (s *Synapse) emit(event Event, env Envelope) {
	s.handlersMu.RLock()
	hs := s.handlers[event]
	s.handlersMu.RUnlock()

	for _, h := range hs {
		s.invoke(event, h, env)
	}
}

func (s *Synapse) invoke(event Event, h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panicked", "event", event, "panic", fmt.Sprint(r))
		}
	}()
	h(env)
}
