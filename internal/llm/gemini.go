package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Google Gemini API.
type GeminiProvider struct {
	apiKey string
	model  string
}

// NewGeminiProvider creates a new Gemini provider. The key comes from the
// config value or the GEMINI_API_KEY environment variable.
func NewGeminiProvider(apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: no API key (set GEMINI_API_KEY or providers.gemini.api_key)")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{apiKey: apiKey, model: model}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
}

// Stream runs a Gemini turn. Tool-enabled requests go through the
// non-streaming API because function call parts only arrive complete;
// the response is then replayed as a synthetic event sequence. Plain
// text requests stream for real, as a single text block.
func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		client, err := p.newClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}

		system, contents := buildGeminiContents(req.Messages)
		if len(contents) == 0 {
			return fmt.Errorf("no user content provided")
		}

		config := &genai.GenerateContentConfig{}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if req.MaxOutputTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxOutputTokens)
		}
		if req.Temperature > 0 {
			config.Temperature = genai.Ptr(req.Temperature)
		}
		if req.TopP > 0 {
			config.TopP = genai.Ptr(req.TopP)
		}
		if len(req.StopSequences) > 0 {
			config.StopSequences = req.StopSequences
		}
		if len(req.Tools) > 0 {
			config.Tools = buildGeminiTools(req.Tools)
			config.ToolConfig = buildGeminiToolConfig(req.ToolChoice)
		}

		if req.Debug {
			fmt.Fprintln(os.Stderr, "=== DEBUG: Gemini Stream Request ===")
			fmt.Fprintf(os.Stderr, "Model: %s\n", chooseModel(req.Model, p.model))
			fmt.Fprintf(os.Stderr, "Messages: %d\n", len(contents))
			fmt.Fprintf(os.Stderr, "Tools: %d\n", len(req.Tools))
			fmt.Fprintln(os.Stderr, "====================================")
		}

		if len(req.Tools) > 0 {
			resp, err := client.Models.GenerateContent(ctx, chooseModel(req.Model, p.model), contents, config)
			if err != nil {
				return fmt.Errorf("gemini API error: %w", err)
			}
			return replayGeminiResponse(ctx, events, resp)
		}

		if err := emit(ctx, events, MessageStartEvent{}); err != nil {
			return err
		}
		textOpen := false
		var lastResp *genai.GenerateContentResponse
		for resp, err := range client.Models.GenerateContentStream(ctx, chooseModel(req.Model, p.model), contents, config) {
			if err != nil {
				return fmt.Errorf("gemini streaming error: %w", err)
			}
			lastResp = resp
			if text := resp.Text(); text != "" {
				if !textOpen {
					if err := emit(ctx, events, BlockStartEvent{Index: 0, Kind: BlockText}); err != nil {
						return err
					}
					textOpen = true
				}
				if err := emit(ctx, events, BlockDeltaEvent{Index: 0, Text: text}); err != nil {
					return err
				}
			}
		}
		if textOpen {
			if err := emit(ctx, events, BlockStopEvent{Index: 0}); err != nil {
				return err
			}
		}
		if err := emit(ctx, events, MessageDeltaEvent{
			Usage:      geminiUsage(lastResp),
			StopReason: geminiStopReason(lastResp, false),
		}); err != nil {
			return err
		}
		return emit(ctx, events, MessageStopEvent{})
	}), nil
}

// replayGeminiResponse turns one complete response into the event sequence
// a streaming provider would have produced, one block per part.
func replayGeminiResponse(ctx context.Context, events chan<- Event, resp *genai.GenerateContentResponse) error {
	if err := emit(ctx, events, MessageStartEvent{}); err != nil {
		return err
	}

	index := 0
	sawToolCall := false
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Thought {
				continue
			}
			switch {
			case part.Text != "":
				if err := emit(ctx, events, BlockStartEvent{Index: index, Kind: BlockText}); err != nil {
					return err
				}
				if err := emit(ctx, events, BlockDeltaEvent{Index: index, Text: part.Text}); err != nil {
					return err
				}
				if err := emit(ctx, events, BlockStopEvent{Index: index}); err != nil {
					return err
				}
				index++
			case part.FunctionCall != nil:
				sawToolCall = true
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				if err := emit(ctx, events, BlockStartEvent{
					Index:    index,
					Kind:     BlockToolUse,
					ToolID:   part.FunctionCall.ID,
					ToolName: part.FunctionCall.Name,
				}); err != nil {
					return err
				}
				if err := emit(ctx, events, BlockDeltaEvent{Index: index, PartialJSON: string(args)}); err != nil {
					return err
				}
				if err := emit(ctx, events, BlockStopEvent{Index: index}); err != nil {
					return err
				}
				index++
			}
		}
	}

	if err := emit(ctx, events, MessageDeltaEvent{
		Usage:      geminiUsage(resp),
		StopReason: geminiStopReason(resp, sawToolCall),
	}); err != nil {
		return err
	}
	return emit(ctx, events, MessageStopEvent{})
}

func geminiUsage(resp *genai.GenerateContentResponse) *Usage {
	if resp == nil || resp.UsageMetadata == nil || resp.UsageMetadata.TotalTokenCount == 0 {
		return nil
	}
	// PromptTokenCount includes cached content; split it out so the
	// counters stay disjoint.
	prompt := int(resp.UsageMetadata.PromptTokenCount)
	cached := int(resp.UsageMetadata.CachedContentTokenCount)
	if cached > prompt {
		cached = prompt
	}
	return &Usage{
		InputTokens:       prompt - cached,
		OutputTokens:      int(resp.UsageMetadata.CandidatesTokenCount),
		CachedInputTokens: cached,
	}
}

func geminiStopReason(resp *genai.GenerateContentResponse, sawToolCall bool) StopReason {
	if sawToolCall {
		return StopToolUse
	}
	if resp != nil && len(resp.Candidates) > 0 {
		if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
			return StopMaxTokens
		}
	}
	return StopEndTurn
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]*genai.Tool, 0, len(specs))
	for _, spec := range specs {
		schema := normalizeSchemaForGemini(spec.Schema)
		tools = append(tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        spec.Name,
					Description: spec.Description,
					Parameters:  schemaToGenai(schema),
				},
			},
		})
	}
	return tools
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := collectTextParts(msg.Parts); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser:
			if content := buildGeminiContent(genai.RoleUser, msg.Parts); content != nil {
				contents = append(contents, content)
			}
		case RoleAssistant:
			if content := buildGeminiContent(genai.RoleModel, msg.Parts); content != nil {
				contents = append(contents, content)
			}
		case RoleTool:
			if content := buildGeminiToolResultContent(msg.Parts); content != nil {
				contents = append(contents, content)
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), contents
}

func buildGeminiContent(role string, parts []Part) *genai.Content {
	content := &genai.Content{Role: role}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   part.ToolCall.ID,
					Name: part.ToolCall.Name,
					Args: toolArgsToMap(part.ToolCall.Arguments),
				},
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func buildGeminiToolResultContent(parts []Part) *genai.Content {
	content := &genai.Content{Role: genai.RoleUser}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case PartToolResult:
			if part.ToolResult == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       part.ToolResult.ID,
					Name:     part.ToolResult.Name,
					Response: map[string]any{"output": part.ToolResult.Content},
				},
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func toolArgsToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	return map[string]any{"_raw": string(raw)}
}

func buildGeminiToolConfig(choice ToolChoice) *genai.ToolConfig {
	mode := genai.FunctionCallingConfigModeAuto
	var allowed []string

	switch choice.Mode {
	case ToolChoiceNone:
		mode = genai.FunctionCallingConfigModeNone
	case ToolChoiceRequired:
		mode = genai.FunctionCallingConfigModeAny
	case ToolChoiceName:
		if strings.TrimSpace(choice.Name) != "" {
			mode = genai.FunctionCallingConfigModeAny
			allowed = []string{choice.Name}
		}
	}

	return &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 mode,
			AllowedFunctionNames: allowed,
		},
	}
}
