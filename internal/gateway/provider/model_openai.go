package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"perpbot/internal/logger"
)

// chatCompleter is the slice of the SDK the provider needs; tests swap it.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type sdkClient struct {
	client openai.Client
}

func (c *sdkClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// OpenAIModelProvider talks to any OpenAI-compatible chat completion API
// (DeepSeek, Qwen, OpenAI).
type OpenAIModelProvider struct {
	id          string
	model       string
	enabled     bool
	temperature float64
	maxTokens   int
	llm         chatCompleter
}

// ModelCfg describes one oracle endpoint.
type ModelCfg struct {
	ID          string
	BaseURL     string
	APIKey      string
	Model       string
	Enabled     bool
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

func NewOpenAIModelProvider(cfg ModelCfg) (*OpenAIModelProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("provider %s: api key missing", cfg.ID)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("provider %s: model missing", cfg.ID)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		// 允许配置完整的 /chat/completions 路径
		base = strings.TrimSuffix(strings.TrimRight(base, "/"), "/chat/completions")
		opts = append(opts, option.WithBaseURL(base+"/"))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = cfg.Model
		logger.Warnf("未配置 ai.provider_id，使用模型名作为 ID: %s", id)
	}
	return &OpenAIModelProvider{
		id:          id,
		model:       cfg.Model,
		enabled:     cfg.Enabled,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		llm:         &sdkClient{client: openai.NewClient(opts...)},
	}, nil
}

func (p *OpenAIModelProvider) ID() string    { return p.id }
func (p *OpenAIModelProvider) Enabled() bool { return p.enabled }

func (p *OpenAIModelProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(payload.System) != "" {
		messages = append(messages, openai.SystemMessage(payload.System))
	}
	messages = append(messages, openai.UserMessage(payload.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	}
	payload = payload.resolve(p.temperature, p.maxTokens)
	if payload.Temperature > 0 {
		params.Temperature = openai.Float(payload.Temperature)
	}
	if payload.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(payload.MaxTokens))
	}

	logger.LogOracleRequest(p.id, payload.TraceID, payload.System, payload.User, "")
	started := time.Now()
	completion, err := p.llm.CreateChatCompletion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", p.id, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("provider %s: empty choices", p.id)
	}
	out := completion.Choices[0].Message.Content
	logger.LogOracleResponse(p.id, payload.TraceID, out)
	logger.Debugf("[AI] %s 响应耗时 %s, %d 字符", p.id, time.Since(started).Round(time.Millisecond), len(out))
	return out, nil
}
