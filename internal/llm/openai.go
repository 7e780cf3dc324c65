package llm

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider using the OpenAI chat completions API.
// Chat completions interleave everything on one choice, so the adapter
// synthesizes block indices: text rides block 0 and tool call i becomes
// block i+1.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider. The key comes from the
// config value or the OPENAI_API_KEY environment variable.
func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: no API key (set OPENAI_API_KEY or providers.openai.api_key)")
	}
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		params := openai.ChatCompletionNewParams{
			Model:    shared.ChatModel(chooseModel(req.Model, p.model)),
			Messages: buildOpenAIMessages(req.Messages),
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}
		if len(req.Tools) > 0 {
			params.Tools = buildOpenAITools(req.Tools)
			if choice, ok := buildOpenAIToolChoice(req.ToolChoice); ok {
				params.ToolChoice = choice
			}
		}
		if req.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
		}
		if req.Temperature > 0 {
			params.Temperature = openai.Float(float64(req.Temperature))
		}
		if req.TopP > 0 {
			params.TopP = openai.Float(float64(req.TopP))
		}
		if len(req.StopSequences) > 0 {
			params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
		}

		if req.Debug {
			fmt.Fprintln(os.Stderr, "=== DEBUG: OpenAI Stream Request ===")
			fmt.Fprintf(os.Stderr, "Model: %s\n", params.Model)
			fmt.Fprintf(os.Stderr, "Messages: %d\n", len(req.Messages))
			fmt.Fprintf(os.Stderr, "Tools: %d\n", len(req.Tools))
			fmt.Fprintln(os.Stderr, "====================================")
		}

		if err := emit(ctx, events, MessageStartEvent{}); err != nil {
			return err
		}

		// Per-turn reassembly state: whether block 0 (text) is open, which
		// synthesized tool blocks are open, and the eventual stop reason.
		textOpen := false
		toolOpen := make(map[int]bool)
		toolOrder := make([]int, 0, 4)
		stop := StopUnknown

		closeBlocks := func() error {
			if textOpen {
				if err := emit(ctx, events, BlockStopEvent{Index: 0}); err != nil {
					return err
				}
				textOpen = false
			}
			for _, idx := range toolOrder {
				if !toolOpen[idx] {
					continue
				}
				if err := emit(ctx, events, BlockStopEvent{Index: idx}); err != nil {
					return err
				}
				toolOpen[idx] = false
			}
			return nil
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()

			if len(chunk.Choices) > 0 {
				choice := chunk.Choices[0]

				if choice.Delta.Content != "" {
					if !textOpen {
						if err := emit(ctx, events, BlockStartEvent{Index: 0, Kind: BlockText}); err != nil {
							return err
						}
						textOpen = true
					}
					if err := emit(ctx, events, BlockDeltaEvent{Index: 0, Text: choice.Delta.Content}); err != nil {
						return err
					}
				}

				for _, tc := range choice.Delta.ToolCalls {
					idx := int(tc.Index) + 1
					if !toolOpen[idx] {
						if err := emit(ctx, events, BlockStartEvent{
							Index:    idx,
							Kind:     BlockToolUse,
							ToolID:   tc.ID,
							ToolName: tc.Function.Name,
						}); err != nil {
							return err
						}
						toolOpen[idx] = true
						toolOrder = append(toolOrder, idx)
					}
					if tc.Function.Arguments != "" {
						if err := emit(ctx, events, BlockDeltaEvent{Index: idx, PartialJSON: tc.Function.Arguments}); err != nil {
							return err
						}
					}
				}

				if choice.FinishReason != "" {
					stop = mapOpenAIFinishReason(choice.FinishReason)
					if err := closeBlocks(); err != nil {
						return err
					}
				}
			}

			// With IncludeUsage the terminal chunk has no choices, only
			// usage totals for the whole turn. prompt_tokens includes the
			// cached portion; split it out so the counters stay disjoint.
			if chunk.Usage.TotalTokens > 0 {
				prompt := int(chunk.Usage.PromptTokens)
				cached := int(chunk.Usage.PromptTokensDetails.CachedTokens)
				if cached > prompt {
					cached = prompt
				}
				if err := emit(ctx, events, MessageDeltaEvent{
					Usage: &Usage{
						InputTokens:       prompt - cached,
						OutputTokens:      int(chunk.Usage.CompletionTokens),
						CachedInputTokens: cached,
					},
					StopReason: stop,
				}); err != nil {
					return err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai streaming error: %w", err)
		}

		// A stream that ends without a finish_reason still needs its blocks
		// closed so the turn can be assembled.
		if err := closeBlocks(); err != nil {
			return err
		}
		if stop != StopUnknown {
			if err := emit(ctx, events, MessageDeltaEvent{StopReason: stop}); err != nil {
				return err
			}
		}
		return emit(ctx, events, MessageStopEvent{})
	}), nil
}

func mapOpenAIFinishReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopEndTurn
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := collectTextParts(msg.Parts); text != "" {
				out = append(out, openai.SystemMessage(text))
			}
		case RoleUser:
			if text := collectTextParts(msg.Parts); text != "" {
				out = append(out, openai.UserMessage(text))
			}
		case RoleAssistant:
			out = append(out, buildOpenAIAssistantMessage(msg))
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				out = append(out, openai.ChatCompletionMessageParamUnion{
					OfTool: &openai.ChatCompletionToolMessageParam{
						ToolCallID: part.ToolResult.ID,
						Content: openai.ChatCompletionToolMessageParamContentUnion{
							OfString: openai.String(part.ToolResult.Content),
						},
					},
				})
			}
		}
	}
	return out
}

func buildOpenAIAssistantMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	assistant := &openai.ChatCompletionAssistantMessageParam{}
	if text := collectTextParts(msg.Parts); text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(text),
		}
	}
	for _, part := range msg.Parts {
		if part.Type != PartToolCall || part.ToolCall == nil {
			continue
		}
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: part.ToolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      part.ToolCall.Name,
				Arguments: string(part.ToolCall.Arguments),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: assistant}
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := shared.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: shared.FunctionParameters(normalizeSchemaForOpenAI(spec.Schema)),
		}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

func buildOpenAIToolChoice(choice ToolChoice) (openai.ChatCompletionToolChoiceOptionUnionParam, bool) {
	switch choice.Mode {
	case ToolChoiceNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}, true
	case ToolChoiceRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}, true
	case ToolChoiceName:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, true
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{}, false
	}
}

// normalizeSchemaForOpenAI rewrites a schema to the subset OpenAI's function
// calling accepts: every property required, no additional properties, and
// only whitelisted string formats. The input map is never mutated.
func normalizeSchemaForOpenAI(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	out := deepCopyMap(schema)
	normalizeSchemaRecursive(out)
	return out
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

var openAIAllowedFormats = map[string]bool{
	"date-time": true,
	"date":      true,
	"time":      true,
	"email":     true,
}

func normalizeSchemaRecursive(schema map[string]interface{}) {
	if format, ok := schema["format"].(string); ok && !openAIAllowedFormats[format] {
		delete(schema, "format")
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		required := make([]string, 0, len(props))
		for name, sub := range props {
			required = append(required, name)
			if subMap, ok := sub.(map[string]interface{}); ok {
				normalizeSchemaRecursive(subMap)
			}
		}
		sort.Strings(required)
		schema["required"] = required
		schema["additionalProperties"] = false
	}

	if items, ok := schema["items"].(map[string]interface{}); ok {
		normalizeSchemaRecursive(items)
	}
}
