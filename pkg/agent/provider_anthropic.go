package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rizal/riko/pkg/tool"
)

// AnthropicClient implements ModelClient against the Anthropic API.
type AnthropicClient struct {
	client       anthropic.Client
	model        string
	maxTokens    int64
	systemPrompt string
}

// AnthropicOptions configures the Anthropic-backed model client.
type AnthropicOptions struct {
	APIKey       string
	Model        string
	MaxTokens    int
	SystemPrompt string
}

// NewAnthropicClient creates a model client backed by the Anthropic API.
func NewAnthropicClient(opts AnthropicOptions) *AnthropicClient {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(option.WithAPIKey(opts.APIKey)),
		model:        opts.Model,
		maxTokens:    int64(maxTokens),
		systemPrompt: opts.SystemPrompt,
	}
}

// Send performs one model call and converts the response into an
// Exchange. Tool calls are returned in the order the model emitted
// them.
func (c *AnthropicClient) Send(ctx context.Context, turns []Turn, tools []tool.Schema) (*Exchange, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  convertTurns(turns),
		MaxTokens: c.maxTokens,
	}

	if c.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.systemPrompt}}
	}

	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ClientError{Err: err}
	}

	return responseToExchange(response)
}

func convertTurns(turns []Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))

	for _, turn := range turns {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(turn.Blocks))
		for _, block := range turn.Blocks {
			blocks = append(blocks, convertBlocks(block)...)
		}
		if len(blocks) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if turn.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}

	return messages
}

// convertBlocks maps one history block to its wire blocks. A tool
// result that carries an image becomes a tool_result block followed by
// an image block in the same message.
func convertBlocks(block Block) []anthropic.ContentBlockParamUnion {
	var out []anthropic.ContentBlockParamUnion

	switch block.Kind {
	case BlockText:
		if block.Text != "" {
			out = append(out, anthropic.NewTextBlock(block.Text))
		}
	case BlockImage:
		if block.Image != "" {
			out = append(out, anthropic.NewImageBlockBase64("image/png", block.Image))
		}
	case BlockToolUse:
		if block.Call != nil {
			out = append(out, anthropic.NewToolUseBlock(block.Call.ID, block.Call.Params, block.Call.Name))
		}
	case BlockToolResult:
		out = append(out, anthropic.NewToolResultBlock(block.ResultFor, block.Text, block.IsError))
		if block.Image != "" {
			out = append(out, anthropic.NewImageBlockBase64("image/png", block.Image))
		}
	}

	if block.CacheControl && len(out) > 0 {
		markCacheControl(&out[len(out)-1])
	}

	return out
}

func markCacheControl(block *anthropic.ContentBlockParamUnion) {
	control := anthropic.NewCacheControlEphemeralParam()
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = control
	case block.OfImage != nil:
		block.OfImage.CacheControl = control
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = control
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = control
	}
}

func convertTools(schemas []tool.Schema) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, schema := range schemas {
		toolParam := anthropic.ToolParam{
			Name:        schema.Name,
			Description: anthropic.String(schema.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.InputSchema["properties"],
			},
		}
		if required, ok := schema.InputSchema["required"].([]string); ok {
			toolParam.InputSchema.Required = required
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools
}

func responseToExchange(response *anthropic.Message) (*Exchange, error) {
	exchange := &Exchange{
		Turn: Turn{Role: RoleAssistant},
		Usage: TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}

	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			exchange.Turn.Blocks = append(exchange.Turn.Blocks, Block{Kind: BlockText, Text: b.Text})
		case anthropic.ToolUseBlock:
			var params map[string]interface{}
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &params); err != nil {
				return nil, &ClientError{Err: fmt.Errorf("failed to parse tool input: %w", err)}
			}
			call := tool.Call{ID: b.ID, Name: b.Name, Params: params}
			exchange.Calls = append(exchange.Calls, call)
			callCopy := call
			exchange.Turn.Blocks = append(exchange.Turn.Blocks, Block{Kind: BlockToolUse, Call: &callCopy})
		}
	}

	return exchange, nil
}
