// Package anthropic wraps the Anthropic Messages API for structured
// attribute imputation.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/resilience"
)

// DefaultModel is used when a request leaves Model empty.
const DefaultModel = "claude-haiku-4-5-20251001"

// Client sends single message requests.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is a provider-neutral message request.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock is one system prompt block. Cached blocks get an ephemeral
// cache breakpoint.
type SystemBlock struct {
	Text   string
	Cached bool
}

// Message is one conversational turn.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse is the subset of the API response the imputer reads.
type MessageResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason string
	Usage      TokenUsage
}

// ContentBlock is one block of response content.
type ContentBlock struct {
	Type string
	Text string
}

// Text concatenates the text blocks of the response.
func (r *MessageResponse) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// model → {input $/MTok, output $/MTok}
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

// EstimateCost returns the estimated USD cost of the usage, 0 for unknown models.
func (u TokenUsage) EstimateCost(model string) float64 {
	p, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return float64(u.InputTokens)/1e6*p[0] +
		float64(u.OutputTokens)/1e6*p[1] +
		float64(u.CacheCreationInputTokens)/1e6*p[0]*1.25 +
		float64(u.CacheReadInputTokens)/1e6*p[0]*0.1
}

// Option configures the SDK client.
type Option func(*config)

type config struct {
	sdkOpts []option.RequestOption
}

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *config) { c.sdkOpts = append(c.sdkOpts, option.WithBaseURL(u)) }
}

// WithHTTPClient overrides the http.Client used by the SDK.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.sdkOpts = append(c.sdkOpts, option.WithHTTPClient(hc)) }
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a client backed by anthropic-sdk-go. SDK retries are
// disabled; callers retry through resilience policies.
func NewClient(apiKey string, opts ...Option) Client {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	sdkOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, cfg.sdkOpts...)
	return &sdkClient{client: sdk.NewClient(sdkOpts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if req.Model == "" {
		req.Model = DefaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 1024
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if len(req.System) > 0 {
		params.System = toSDKSystem(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	resp := fromSDKMessage(msg)
	zap.L().Debug("anthropic: message created",
		zap.String("model", resp.Model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Float64("estimated_cost_usd", resp.Usage.EstimateCost(resp.Model)),
	)
	return resp, nil
}

// classify marks rate limits, overloads and server errors as transient.
func classify(err error) error {
	wrapped := eris.Wrap(err, "anthropic: create message")
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		// 529 is the API's overloaded status.
		if resilience.IsTransientHTTPStatus(apiErr.StatusCode) || apiErr.StatusCode == 529 {
			return resilience.NewTransientError(wrapped, apiErr.StatusCode)
		}
		return wrapped
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out[i] = sdk.NewAssistantMessage(block)
		} else {
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}

func toSDKSystem(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{Text: b.Text}
		if b.Cached {
			out[i].CacheControl = sdk.NewCacheControlEphemeralParam()
		}
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	blocks := make([]ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		blocks = append(blocks, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Content:    blocks,
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
}
