package synapse

import "github.com/hashicorp/go-hclog"

const (
	DefaultName           = "synapse-network"
	DefaultMaxConcurrency = 10
	DefaultMaxRounds      = 5
)

// Option configures a Synapse
type Option func(*Synapse)

// WithName sets the network name used as the sender of system envelopes
func WithName(name string) Option {
	return func(s *Synapse) { s.name = name }
}

// WithLogger sets the logger
func WithLogger(l hclog.Logger) Option {
	return func(s *Synapse) { s.logger = l }
}

// WithMaxConcurrency bounds concurrent deliveries of one Broadcast.
// Zero or less means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(s *Synapse) { s.maxConcurrency = n }
}

// BroadcastOptions selects the recipients of a Broadcast.
type BroadcastOptions struct {
	// From is the sender name; defaults to the network name.
	From string
	// Agents, when set, is used verbatim as the recipient list.
	Agents []string
	// Exclude removes names from the default recipient list.
	Exclude []string
	// MaxConcurrency overrides the network setting for this call.
	MaxConcurrency int
}

// OrchestrateOptions configures an Orchestrate call.
type OrchestrateOptions struct {
	// Participants defaults to every connected agent.
	Participants []string
	// MaxRounds is the number of contribution rounds (default 5).
	MaxRounds int
}
