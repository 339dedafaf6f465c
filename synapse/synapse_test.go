package synapse

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/pkg/llm/provider"
)

func newTestSynapse(opts ...Option) *Synapse {
	return New(append([]Option{WithLogger(hclog.NewNullLogger())}, opts...)...)
}

// echoAgent answers "<name>: <input>" and counts its calls.
type echoAgent struct {
	name  string
	calls atomic.Int32
}

func (a *echoAgent) Name() string { return a.name }

func (a *echoAgent) Think(_ context.Context, input string) (string, error) {
	a.calls.Add(1)
	return a.name + ": " + input, nil
}

func (a *echoAgent) Stream(ctx context.Context, input string) (agent.Stream, error) {
	out, err := a.Think(ctx, input)
	if err != nil {
		return nil, err
	}
	return agent.NewSliceStream(out), nil
}

func failingAgent(name string, err error) agent.Agent {
	return agent.NewFunc(name, func(context.Context, string) (string, error) { return "", err })
}

// blockingAgent waits until released or cancelled.
func blockingAgent(name string, started chan<- struct{}) agent.Agent {
	return agent.NewFunc(name, func(ctx context.Context, _ string) (string, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return "", ctx.Err()
	})
}

func TestConnect(t *testing.T) {
	s := newTestSynapse()

	var handshakes []Envelope
	s.On(EventConnect, func(e Envelope) { handshakes = append(handshakes, e) })

	require.NoError(t, s.Connect(&echoAgent{name: "a"}, "search"))
	require.NoError(t, s.Connect(&echoAgent{name: "b"}))

	err := s.Connect(&echoAgent{name: "a"})
	assert.ErrorIs(t, err, ErrDuplicateAgent)

	assert.Equal(t, []string{"a", "b"}, s.Agents())
	assert.Equal(t, 2, s.Len())

	caps, err := s.Capabilities("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"search"}, caps)

	_, err = s.Capabilities("zzz")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	got, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.Name())

	require.Len(t, handshakes, 2)
	assert.Equal(t, TypeHandshake, handshakes[0].Type)
	assert.Equal(t, "a", handshakes[0].Sender)
	assert.Equal(t, DefaultName, handshakes[0].Recipient)
}

func TestConnectPublishesCard(t *testing.T) {
	s := newTestSynapse()
	var hs Envelope
	s.On(EventConnect, func(e Envelope) { hs = e })

	c, err := agent.NewConductor("carded",
		agent.WithModel("mock/echo"),
		agent.WithProvider(provider.NewMockProvider("mock")),
		agent.WithLogger(hclog.NewNullLogger()),
	)
	require.NoError(t, err)
	require.NoError(t, s.Connect(c))

	card, ok := hs.Metadata["card"].(agent.AgentCard)
	require.True(t, ok)
	assert.Equal(t, "carded", card.Name)
}

func TestDisconnect(t *testing.T) {
	s := newTestSynapse()
	require.NoError(t, s.Connect(&echoAgent{name: "a"}))
	require.NoError(t, s.Connect(&echoAgent{name: "b"}))

	var events []Envelope
	s.On(EventDisconnect, func(e Envelope) { events = append(events, e) })

	require.NoError(t, s.Disconnect("a"))
	assert.Equal(t, []string{"b"}, s.Agents())
	assert.ErrorIs(t, s.Disconnect("a"), ErrUnknownAgent)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Sender)

	// The name is free again.
	require.NoError(t, s.Connect(&echoAgent{name: "a"}))
	assert.Equal(t, []string{"b", "a"}, s.Agents())
}

func TestSend(t *testing.T) {
	s := newTestSynapse()
	b := &echoAgent{name: "b"}
	require.NoError(t, s.Connect(b))

	var seen []Envelope
	var mu sync.Mutex
	s.On(EventMessage, func(e Envelope) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})

	out, err := s.Send(t.Context(), "a", "b", "hello", TypeRequest)
	require.NoError(t, err)
	assert.Equal(t, "b: hello", out)
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, 0, s.Pending())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	req, resp := seen[0], seen[1]
	assert.Equal(t, TypeRequest, req.Type)
	assert.NotEmpty(t, req.CorrelationID)
	assert.Equal(t, TypeResponse, resp.Type)
	assert.Equal(t, req.CorrelationID, resp.CorrelationID)
	assert.Equal(t, "b", resp.Sender)
	assert.Equal(t, "a", resp.Recipient)
}

func TestSendErrors(t *testing.T) {
	s := newTestSynapse()
	upstream := errors.New("rate limited by provider")
	require.NoError(t, s.Connect(failingAgent("bad", upstream)))

	var errs []Envelope
	s.On(EventError, func(e Envelope) { errs = append(errs, e) })

	_, err := s.Send(t.Context(), "a", "nobody", "x", TypeRequest)
	assert.ErrorIs(t, err, ErrUnknownAgent)

	_, err = s.Send(t.Context(), "a", "bad", "x", TypeRequest)
	assert.ErrorIs(t, err, upstream)
	require.Len(t, errs, 1)
	assert.Equal(t, TypeError, errs[0].Type)
	assert.Contains(t, errs[0].Error, "rate limited by provider")

	_, err = s.Send(t.Context(), "a", "bad", "x", TypeResponse)
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestSendDoesNotTouchSenderHistory(t *testing.T) {
	s := newTestSynapse()
	newConductor := func(name string) *agent.Conductor {
		c, err := agent.NewConductor(name,
			agent.WithModel("mock/echo"),
			agent.WithProvider(provider.NewMockProvider("mock")),
			agent.WithLogger(hclog.NewNullLogger()),
		)
		require.NoError(t, err)
		return c
	}
	sender, recipient := newConductor("sender"), newConductor("recipient")
	require.NoError(t, s.Connect(sender))
	require.NoError(t, s.Connect(recipient))

	_, err := s.Send(t.Context(), "sender", "recipient", "hi", TypeRequest)
	require.NoError(t, err)

	require.NoError(t, s.Disconnect("recipient"))
	_, err = s.Send(t.Context(), "sender", "recipient", "hi", TypeRequest)
	assert.ErrorIs(t, err, ErrUnknownAgent)

	hist, err := sender.History(t.Context())
	require.NoError(t, err)
	assert.Empty(t, hist)
	hist, err = recipient.History(t.Context())
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestDisconnectResolvesPending(t *testing.T) {
	s := newTestSynapse()
	started := make(chan struct{}, 1)
	require.NoError(t, s.Connect(blockingAgent("slow", started)))

	var dropped atomic.Int32
	s.On(EventError, func(e Envelope) {
		if _, ok := e.Metadata["dropped"]; ok {
			dropped.Add(1)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "a", "slow", "work", TypeRequest)
		errCh <- err
	}()

	<-started
	require.Equal(t, 1, s.Pending())
	require.NoError(t, s.Disconnect("slow"))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAgentUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not resolved by disconnect")
	}

	// The cancelled agent call still answers; that late reply is dropped.
	assert.Eventually(t, func() bool { return dropped.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Pending())
}

func TestRequestCallerCancel(t *testing.T) {
	s := newTestSynapse()
	started := make(chan struct{}, 1)
	require.NoError(t, s.Connect(blockingAgent("slow", started)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := s.Send(ctx, "a", "slow", "work", TypeRequest)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompleteRejectsDuplicateReply(t *testing.T) {
	s := newTestSynapse()
	req := NewEnvelope(TypeRequest, "a", "b", "x")
	p := &pendingRequest{request: req, done: make(chan struct{})}
	s.pending[req.CorrelationID] = p

	require.NoError(t, s.complete(req.reply("first")))
	err := s.complete(req.reply("second"))
	assert.ErrorIs(t, err, ErrDuplicateReply)
	assert.Equal(t, "first", p.reply.Payload)

	err = s.complete(req.fail(errors.New("late")))
	assert.ErrorIs(t, err, ErrDuplicateReply)
}

func TestDelegate(t *testing.T) {
	s := newTestSynapse()
	require.NoError(t, s.Connect(&echoAgent{name: "worker"}))

	out, err := s.Delegate(t.Context(), "boss", "worker", "write tests", nil)
	require.NoError(t, err)
	assert.Equal(t, "worker: write tests", out)

	out, err = s.Delegate(t.Context(), "boss", "worker", "write tests", map[string]any{"lang": "go"})
	require.NoError(t, err)
	assert.Equal(t, "worker: Context: {\"lang\":\"go\"}\n\nTask: write tests", out)

	_, err = s.Delegate(t.Context(), "boss", "ghost", "x", nil)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestHeartbeat(t *testing.T) {
	s := newTestSynapse(WithName("net"))
	require.NoError(t, s.Connect(&echoAgent{name: "a"}))
	require.NoError(t, s.Connect(&echoAgent{name: "b"}))

	beats, err := s.Heartbeat(t.Context())
	require.NoError(t, err)
	require.Len(t, beats, 2)
	assert.Equal(t, TypeHeartbeat, beats[0].Type)
	assert.Equal(t, "net", beats[0].Sender)
	assert.Equal(t, "a", beats[0].Recipient)
	assert.Equal(t, "b", beats[1].Recipient)
}

func TestClose(t *testing.T) {
	s := newTestSynapse()
	started := make(chan struct{}, 1)
	require.NoError(t, s.Connect(blockingAgent("slow", started)))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "a", "slow", "x", TypeRequest)
		errCh <- err
	}()
	<-started

	require.NoError(t, s.Close())
	assert.ErrorIs(t, <-errCh, ErrAgentUnavailable)
	assert.Empty(t, s.Agents())

	assert.ErrorIs(t, s.Connect(&echoAgent{name: "x"}), ErrClosed)
	_, err := s.Send(t.Context(), "a", "x", "y", TypeRequest)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Heartbeat(t.Context())
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, s.Close())
}

func TestHandlerPanicIsContained(t *testing.T) {
	s := newTestSynapse()
	s.On(EventConnect, func(Envelope) { panic("boom") })
	var after bool
	s.On(EventConnect, func(Envelope) { after = true })

	require.NoError(t, s.Connect(&echoAgent{name: "a"}))
	assert.True(t, after)
}

func TestEnvelope(t *testing.T) {
	req := NewEnvelope(TypeRequest, "a", "b", "x")
	assert.NotEmpty(t, req.ID)
	assert.NotEmpty(t, req.CorrelationID)
	assert.NotEqual(t, req.ID, req.CorrelationID)

	note := NewEnvelope(TypeNotification, "a", "b", "x")
	assert.Empty(t, note.CorrelationID)

	resp := req.reply("done")
	assert.Equal(t, TypeResponse, resp.Type)
	assert.Equal(t, req.CorrelationID, resp.CorrelationID)
	assert.Nil(t, resp.Err())

	fail := req.fail(ErrAgentUnavailable)
	assert.ErrorIs(t, fail.Err(), ErrAgentUnavailable)
	assert.True(t, fail.Type.Terminal())
	assert.False(t, TypeHeartbeat.Deliverable())

	m := req.WithMetadata("k", "v")
	assert.Nil(t, req.Metadata)
	assert.Equal(t, "v", m.Metadata["k"])
	assert.True(t, strings.HasPrefix(req.String(), "Envelope{request a -> b"))
}
