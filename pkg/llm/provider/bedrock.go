package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/muthuks2020/reasona/pkg/config"
)

const defaultBedrockRegion = "us-east-1"

func init() {
	RegisterFactory("bedrock", func(cfg config.ProviderConfig) (Provider, error) {
		return NewBedrockProvider(context.Background(), cfg)
	})
}

// BedrockProvider implements Provider for AWS Bedrock using the Converse API.
// Credentials come from the default AWS chain.
type BedrockProvider struct {
	runtime *bedrockruntime.Client
	control *bedrock.Client
}

// NewBedrockProvider loads the default AWS config for the configured region
func NewBedrockProvider(ctx context.Context, cfg config.ProviderConfig) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = defaultBedrockRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		runtime: bedrockruntime.NewFromConfig(awsCfg),
		control: bedrock.NewFromConfig(awsCfg),
	}, nil
}

// Name returns the provider name
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// CreateCompletion calls Converse. The SDK's own retryer handles throttling.
func (p *BedrockProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	input := p.buildInput(req)

	out, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return nil, wrapBedrockError(err)
	}

	return p.parseOutput(out)
}

// CreateStreaming calls ConverseStream
func (p *BedrockProvider) CreateStreaming(ctx context.Context, req CompletionRequest) (Stream, error) {
	input := p.buildInput(req)

	out, err := p.runtime.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		InferenceConfig: input.InferenceConfig,
		ToolConfig:      input.ToolConfig,
	})
	if err != nil {
		return nil, wrapBedrockError(err)
	}

	return &bedrockStream{stream: out.GetStream()}, nil
}

// ListModels returns the foundation model ids in the region
func (p *BedrockProvider) ListModels(ctx context.Context) ([]string, error) {
	out, err := p.control.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, wrapBedrockError(err)
	}
	ids := make([]string, 0, len(out.ModelSummaries))
	for _, m := range out.ModelSummaries {
		ids = append(ids, aws.ToString(m.ModelId))
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *BedrockProvider) buildInput(req CompletionRequest) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
		case RoleAssistant:
			msg := types.Message{Role: types.ConversationRoleAssistant}
			if m.Content != "" {
				msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Function.Arguments, &args)
				msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Function.Name),
					Input:     document.NewLazyDocument(args),
				}})
			}
			input.Messages = appendBedrockMessage(input.Messages, msg)
		case RoleTool:
			input.Messages = appendBedrockMessage(input.Messages, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
				}}},
			})
		default:
			input.Messages = appendBedrockMessage(input.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}

	if len(req.Tools) > 0 {
		tools := make([]types.Tool, len(req.Tools))
		for i, t := range req.Tools {
			var schema map[string]any
			if len(t.Parameters) > 0 {
				_ = json.Unmarshal(t.Parameters, &schema)
			}
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			tools[i] = &types.ToolMemberToolSpec{Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			}}
		}
		input.ToolConfig = &types.ToolConfiguration{Tools: tools}
	}

	return input
}

// appendBedrockMessage merges consecutive same-role messages, which Converse
// rejects.
func appendBedrockMessage(msgs []types.Message, msg types.Message) []types.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == msg.Role {
		msgs[n-1].Content = append(msgs[n-1].Content, msg.Content...)
		return msgs
	}
	return append(msgs, msg)
}

func (p *BedrockProvider) parseOutput(out *bedrockruntime.ConverseOutput) (*CompletionResponse, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewProviderError("bedrock", ErrorCodeUnknown, "no message in response", nil)
	}

	result := &CompletionResponse{FinishReason: "stop"}
	if out.StopReason != "" && out.StopReason != types.StopReasonEndTurn {
		result.FinishReason = string(out.StopReason)
	}

	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			result.Content += b.Value
		case *types.ContentBlockMemberToolUse:
			args := json.RawMessage("{}")
			if b.Value.Input != nil {
				if raw, err := b.Value.Input.MarshalSmithyDocument(); err == nil {
					args = raw
				}
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:   aws.ToString(b.Value.ToolUseId),
				Type: "function",
				Function: FunctionCall{
					Name:      aws.ToString(b.Value.Name),
					Arguments: args,
				},
			})
		}
	}

	if out.Usage != nil {
		result.Usage = Usage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}

	return result, nil
}

// wrapBedrockError maps AWS error codes to ProviderError
func wrapBedrockError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return NewProviderError("bedrock", ErrorCodeUnknown, err.Error(), err)
	}

	code := ErrorCodeUnknown
	switch name := apiErr.ErrorCode(); {
	case name == "ThrottlingException" || name == "TooManyRequestsException":
		code = ErrorCodeRateLimit
	case name == "ServiceQuotaExceededException":
		code = ErrorCodeQuotaExceeded
	case name == "AccessDeniedException" || name == "UnrecognizedClientException":
		code = ErrorCodeAuthentication
	case name == "ResourceNotFoundException":
		code = ErrorCodeModelNotFound
	case name == "ValidationException":
		code = ErrorCodeInvalidRequest
	case name == "ModelTimeoutException":
		code = ErrorCodeTimeout
	case strings.HasSuffix(name, "ServerException") || name == "ServiceUnavailableException" || name == "ModelNotReadyException":
		code = ErrorCodeServerError
	}
	return NewProviderError("bedrock", code, apiErr.ErrorMessage(), err)
}

type bedrockStream struct {
	stream *bedrockruntime.ConverseStreamEventStream
}

func (s *bedrockStream) Recv() (*StreamChunk, error) {
	for event := range s.stream.Events() {
		switch e := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			if delta, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
				return &StreamChunk{Delta: delta.Value}, nil
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			reason := "stop"
			if e.Value.StopReason != "" && e.Value.StopReason != types.StopReasonEndTurn {
				reason = string(e.Value.StopReason)
			}
			return &StreamChunk{FinishReason: reason}, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return nil, wrapBedrockError(err)
	}
	return nil, io.EOF
}

func (s *bedrockStream) Close() error {
	return s.stream.Close()
}
