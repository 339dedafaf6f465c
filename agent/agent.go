package agent

import (
	"context"
	"io"
	"sync"
)

// Agent is the unit of work the Synapse bus and Workflow stages invoke.
type Agent interface {
	// Name returns the unique identifier for this agent instance.
	// Names must be unique within a Synapse.
	Name() string

	// Think processes input and returns the complete response.
	// Implementations must be safe for concurrent use.
	Think(ctx context.Context, input string) (string, error)

	// Stream processes input and yields the response incrementally.
	// The returned stream is finite and cannot be restarted.
	Stream(ctx context.Context, input string) (Stream, error)
}

// Stream is a finite sequence of response fragments. Recv returns io.EOF
// after the last fragment.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// ThinkFunc is the signature of an agent's Think method.
type ThinkFunc func(ctx context.Context, input string) (string, error)

// Func adapts a plain function into an Agent. Stream yields the whole
// response as a single fragment.
type Func struct {
	name string
	fn   ThinkFunc
}

// NewFunc creates a function-backed agent.
func NewFunc(name string, fn ThinkFunc) *Func {
	return &Func{name: name, fn: fn}
}

// Name implements Agent
func (f *Func) Name() string { return f.name }

// Think implements Agent
func (f *Func) Think(ctx context.Context, input string) (string, error) {
	return f.fn(ctx, input)
}

// Stream implements Agent
func (f *Func) Stream(ctx context.Context, input string) (Stream, error) {
	out, err := f.fn(ctx, input)
	if err != nil {
		return nil, err
	}
	return NewSliceStream(out), nil
}

// SliceStream replays fixed fragments.
type SliceStream struct {
	mu     sync.Mutex
	parts  []string
	pos    int
	closed bool
}

// NewSliceStream creates a stream over parts.
func NewSliceStream(parts ...string) *SliceStream {
	return &SliceStream{parts: parts}
}

// Recv implements Stream
func (s *SliceStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.parts) {
		return "", io.EOF
	}
	p := s.parts[s.pos]
	s.pos++
	return p, nil
}

// Close implements Stream
func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Collect drains a stream into a single string and closes it.
func Collect(s Stream) (string, error) {
	defer func() { _ = s.Close() }()
	var out []byte
	for {
		part, err := s.Recv()
		if err == io.EOF {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, part...)
	}
}
