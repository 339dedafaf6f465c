package synapse

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Result is one recipient's outcome of a Broadcast.
type Result struct {
	Agent  string `json:"agent"`
	Output string `json:"output,omitempty"`
	Err    error  `json:"-"`
}

// OK reports whether the delivery succeeded
func (r Result) OK() bool { return r.Err == nil }

// Broadcast delivers content to several agents concurrently and waits for
// all of them. Results follow the recipient order; a failed delivery is
// reported in its own slot and never cancels the others.
//
// Without an explicit Agents list the recipients are all connected agents
// in connection order, minus Exclude.
func (s *Synapse) Broadcast(ctx context.Context, content string, opts BroadcastOptions) ([]Result, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	recipients := opts.Agents
	if recipients == nil {
		recipients = slices.DeleteFunc(s.Agents(), func(n string) bool {
			return slices.Contains(opts.Exclude, n)
		})
	}
	from := opts.From
	if from == "" {
		from = s.name
	}
	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = s.maxConcurrency
	}
	if limit <= 0 || limit > len(recipients) {
		limit = len(recipients)
	}

	results := make([]Result, len(recipients))
	if len(recipients) == 0 {
		return results, nil
	}

	sem := semaphore.NewWeighted(int64(limit))
	var g errgroup.Group
	for i, name := range recipients {
		results[i].Agent = name
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i].Err = err
				return nil
			}
			defer sem.Release(1)

			env := NewEnvelope(TypeNotification, from, name, content)
			env.Recipients = recipients
			reply, err := s.Request(ctx, env)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Output = reply.Payload
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Debug("broadcast complete", "recipients", len(recipients))
	return results, nil
}
