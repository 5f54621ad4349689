package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/closerlabs/convoengine/internal/config"
	"github.com/closerlabs/convoengine/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator implements Generator over the OpenAI Chat Completions API.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    config.LLMConfig
}

// NewOpenAIGenerator creates a generator from LLM config.
func NewOpenAIGenerator(cfg config.LLMConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

// Generate produces a text completion from the message window.
func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt string, messages []models.ConversationTurn, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = g.cfg.Model
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = g.cfg.Temperature
	}

	chat := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		chat = append(chat, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range messages {
		chat = append(chat, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    chat,
		Temperature: float32(temperature),
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateObject asks for a JSON response and unmarshals it into v,
// salvaging JSON out of any surrounding prose or code fences.
func (g *OpenAIGenerator) GenerateObject(ctx context.Context, prompt string, v any) error {
	text, err := g.Generate(ctx, "Respond with JSON only. No prose, no markdown fences.",
		[]models.ConversationTurn{{Role: models.RoleUser, Content: prompt}},
		Options{Temperature: 0.1})
	if err != nil {
		return err
	}

	raw, ok := SalvageJSON(text)
	if !ok {
		return fmt.Errorf("openai: no JSON object in response")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("openai: decode structured response: %w", err)
	}
	return nil
}
