// Package synapse implements an in-process message bus for agents.
//
// Agents connect under unique names and exchange typed envelopes:
//
//	bus := synapse.New()
//	_ = bus.Connect(researcher, "research")
//	_ = bus.Connect(writer, "writing")
//
//	notes, err := bus.Delegate(ctx, "writer", "researcher", "Summarize Go generics", nil)
//	results, err := bus.Broadcast(ctx, "Status report please", synapse.BroadcastOptions{})
//	outcome, err := bus.Orchestrate(ctx, "Write a blog post on Go 1.22", "researcher", synapse.OrchestrateOptions{MaxRounds: 2})
//
// Every delivered envelope is matched to exactly one terminal RESPONSE or
// ERROR by correlation ID. Disconnecting an agent fails its pending requests
// with ErrAgentUnavailable instead of leaving callers waiting. Synapse never
// retries; that is left to callers and to the workflow package.
package synapse
