package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds the OpenAI-compatible provider configuration.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	MaxRetries int
}

const receptionistPrompt = `You are a virtual receptionist answering business phone calls.
Answer briefly and politely. Respond ONLY with a JSON object:
{"reply": "<what to say to the caller>", "action": "continue" or "transfer", "human_requested": true if the caller asked for a person, "department": "<department hint or empty>"}`

// turnPayload is the JSON shape the model is instructed to emit.
type turnPayload struct {
	Reply          string `json:"reply"`
	Action         string `json:"action"`
	HumanRequested bool   `json:"human_requested"`
	Department     string `json:"department"`
}

// OpenAIProvider implements Provider against any OpenAI-compatible chat
// completion endpoint.
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
	logger *slog.Logger
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider. APIKey is required; BaseURL and
// ChatModel fall back to the OpenAI defaults.
func NewOpenAIProvider(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider: API key is required")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
		logger: logger.With("subsystem", "ai_provider"),
	}, nil
}

// Respond generates the next receptionist turn. Provider errors after
// retries are reported as ErrServiceUnavailable so the session can fail
// over to a human.
func (p *OpenAIProvider) Respond(ctx context.Context, history []Message, utterance string) (*Reply, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: receptionistPrompt,
	})
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: utterance,
	})

	var content string
	err := p.doWithRetry(ctx, func() error {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    p.config.ChatModel,
			Messages: messages,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	return parseTurn(content)
}

// parseTurn decodes the model's JSON turn. A model that ignores the format
// still produced words a caller can hear, so plain text degrades to a
// continue turn instead of an error.
func parseTurn(content string) (*Reply, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var payload turnPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return &Reply{Utterance: content, Outcome: OutcomeContinue}, nil
	}

	outcome := OutcomeContinue
	if payload.Action == string(OutcomeTransfer) {
		outcome = OutcomeTransfer
	}
	return &Reply{
		Utterance:      payload.Reply,
		Outcome:        outcome,
		HumanRequested: payload.HumanRequested,
		Department:     payload.Department,
	}, nil
}

// doWithRetry executes a function with exponential backoff retry.
func (p *OpenAIProvider) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if attempt < p.config.MaxRetries-1 {
				waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				p.logger.Debug("chat request failed, retrying",
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err,
				)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}
