package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a misinformation analysis expert. Provide detailed technical analysis."

const promptTemplate = `Analyze this social media post for fake news characteristics. Respond ONLY with JSON format:
{
    "probability": "percentage",
    "type": ["satire", "false connection", "misleading content", "false context", "impostor content", "manipulated content", "fabricated content"],
    "sentiment": "negative/neutral/positive",
    "reason": "short explanation"
}

Post: %q`

// OpenAIConfig configures the OpenAI classifier.
type OpenAIConfig struct {
	APIKey    string
	Model     string // default gpt-4o-mini
	BaseURL   string // optional, for compatible endpoints
	MaxTokens int    // default 250
}

// OpenAI classifies posts with the chat completions API.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAI builds a classifier. logger may be nil.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("classify: openai api key not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 250
	}
	if logger == nil {
		logger = slog.Default()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}, nil
}

func (o *OpenAI) Classify(ctx context.Context, text string) (*Verdict, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(promptTemplate, text)},
		},
		Temperature: 0.3,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("classify: openai returned no choices")
	}
	o.logger.Debug("classify: answer received", "model", o.model, "finish_reason", resp.Choices[0].FinishReason)
	return ParseVerdict(resp.Choices[0].Message.Content)
}
