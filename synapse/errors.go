package synapse

import "errors"

var (
	// ErrUnknownAgent is returned when an operation names an agent that is
	// not connected.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrDuplicateAgent is returned by Connect when the name is taken.
	ErrDuplicateAgent = errors.New("agent already connected")

	// ErrAgentUnavailable resolves requests whose recipient disconnected
	// before answering.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrDuplicateReply reports a terminal reply for a request that was
	// already completed. The reply is dropped.
	ErrDuplicateReply = errors.New("duplicate reply")

	// ErrSelfDelegation is returned when a lead delegates to itself while its
	// own turn is still running.
	ErrSelfDelegation = errors.New("lead cannot delegate to itself")

	ErrInvalidMessageType = errors.New("invalid message type")
	ErrClosed             = errors.New("synapse closed")
	ErrNoAgents           = errors.New("no agents available")
)
