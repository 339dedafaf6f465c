package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/muthuks2020/reasona/internal/observability"
	metrics "github.com/muthuks2020/reasona/pkg/observability"
)

// InstrumentedProvider traces every call and records it in the
// reasona_llm_* metrics.
type InstrumentedProvider struct {
	provider Provider
}

func NewInstrumentedProvider(p Provider) *InstrumentedProvider {
	return &InstrumentedProvider{provider: p}
}

// WrapProvider instruments p unless it already is
func WrapProvider(p Provider) Provider {
	if _, ok := p.(*InstrumentedProvider); ok {
		return p
	}
	return NewInstrumentedProvider(p)
}

func (p *InstrumentedProvider) Unwrap() Provider { return p.provider }

func (p *InstrumentedProvider) Name() string { return p.provider.Name() }

// call is the bookkeeping for one request, shared by both call styles
type call struct {
	span     trace.Span
	provider string
	model    string
	start    time.Time
}

func (p *InstrumentedProvider) begin(ctx context.Context, kind string, req CompletionRequest) (context.Context, *call) {
	name := p.provider.Name()
	ctx, span := observability.StartSpanWithOtel(ctx, "llm."+name+"."+kind, trace.WithAttributes(
		attribute.String("llm.provider", name),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(req.Tools)),
		attribute.Float64("llm.temperature", req.Temperature),
	))
	return ctx, &call{span: span, provider: name, model: req.Model, start: time.Now()}
}

// end closes the span and records the request. The metric status is
// "success", the provider error code, or "error".
func (c *call) end(err error, usage Usage) {
	d := time.Since(c.start)
	status := "success"
	if err != nil {
		status = ErrorCode(err)
		if status == "" {
			status = "error"
		}
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
	c.span.SetAttributes(
		attribute.String("llm.status", status),
		attribute.Int64("llm.duration_ms", d.Milliseconds()),
	)
	c.span.End()
	metrics.RecordLLMRequest(c.provider, c.model, status, d, usage.PromptTokens, usage.CompletionTokens)
}

func (p *InstrumentedProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, c := p.begin(ctx, "completion", req)
	resp, err := p.provider.CreateCompletion(ctx, req)
	if err != nil {
		c.end(err, Usage{})
		return nil, err
	}
	c.span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
		attribute.String("llm.finish_reason", resp.FinishReason),
	)
	c.end(nil, resp.Usage)
	return resp, nil
}

// CreateStreaming keeps the span open until the stream is closed
func (p *InstrumentedProvider) CreateStreaming(ctx context.Context, req CompletionRequest) (Stream, error) {
	ctx, c := p.begin(ctx, "streaming", req)
	stream, err := p.provider.CreateStreaming(ctx, req)
	if err != nil {
		c.end(err, Usage{})
		return nil, err
	}
	return &instrumentedStream{Stream: stream, call: c}, nil
}

func (p *InstrumentedProvider) ListModels(ctx context.Context) ([]string, error) {
	lister, ok := p.provider.(ModelLister)
	if !ok {
		return nil, fmt.Errorf("provider %s does not list models", p.provider.Name())
	}
	return lister.ListModels(ctx)
}

type instrumentedStream struct {
	Stream
	call *call

	chunks int
	chars  int
	err    error
	done   bool
}

func (s *instrumentedStream) Recv() (*StreamChunk, error) {
	chunk, err := s.Stream.Recv()
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		s.err = err
	case chunk != nil:
		if s.chunks == 0 {
			s.call.span.AddEvent("first_chunk", trace.WithAttributes(
				attribute.Int64("llm.ttft_ms", time.Since(s.call.start).Milliseconds())))
		}
		s.chunks++
		s.chars += len(chunk.Delta)
		if chunk.FinishReason != "" {
			s.call.span.SetAttributes(attribute.String("llm.finish_reason", chunk.FinishReason))
		}
	}
	return chunk, err
}

// Close ends the span once, even when called repeatedly
func (s *instrumentedStream) Close() error {
	err := s.Stream.Close()
	if s.done {
		return err
	}
	s.done = true
	s.call.span.SetAttributes(
		attribute.Int("llm.stream.chunks", s.chunks),
		attribute.Int("llm.stream.chars", s.chars),
	)
	s.call.end(errors.Join(s.err, err), Usage{})
	return err
}
