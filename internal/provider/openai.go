package provider

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/pkg/circuitbreaker"
	"github.com/fisioflow/backend/pkg/config"
	"github.com/fisioflow/backend/pkg/logger"
	"github.com/fisioflow/backend/pkg/retry"
)

const systemPrompt = `Você é um assistente clínico de fisioterapia. Responda em português,
de forma objetiva e baseada em evidências. Inclua precauções quando relevante e
recomende avaliação presencial quando a pergunta exigir exame físico. Nunca
prescreva medicamentos.`

// ChatBackend answers queries through an OpenAI-compatible chat API. All
// four supported providers (openai, deepseek, groq, openrouter) differ
// only in base URL, model and credentials.
type ChatBackend struct {
	name        string
	model       string
	client      *openai.Client
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	maxTokens   int
}

func NewChatBackend(account config.ProviderAccount) *ChatBackend {
	cfg := openai.DefaultConfig(account.APIKey)
	if account.BaseURL != "" {
		cfg.BaseURL = account.BaseURL
	}

	cb := circuitbreaker.NewCircuitBreaker(account.Provider, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Chat backend initialized",
		zap.String("provider", account.Provider),
		zap.String("model", account.Model),
	)

	return &ChatBackend{
		name:        account.Provider,
		model:       account.Model,
		client:      openai.NewClientWithConfig(cfg),
		cb:          cb,
		retryConfig: retryConfig,
		maxTokens:   1024,
	}
}

func (b *ChatBackend) Name() string {
	return b.name
}

// Generate calls the chat API once (with bounded in-call retries behind a
// circuit breaker). The upstream API reports no confidence, so a fixed
// score is assigned, degraded when the answer was truncated.
func (b *ChatBackend) Generate(ctx context.Context, query string, qctx models.QueryContext) (string, float64, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(query, qctx)},
	}

	var text string
	confidence := 0.8

	err := b.cb.Execute(ctx, func() error {
		return retry.Do(ctx, b.retryConfig, func() error {
			resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       b.model,
				Messages:    messages,
				Temperature: 0.2,
				MaxTokens:   b.maxTokens,
			})
			if err != nil {
				return fmt.Errorf("chat completion failed: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("chat completion returned no choices")
			}

			choice := resp.Choices[0]
			text = choice.Message.Content
			if choice.FinishReason == openai.FinishReasonLength {
				confidence = 0.6
			}

			logger.Debug("Backend answer generated",
				zap.String("provider", b.name),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)
			return nil
		})
	})
	if err != nil {
		return "", 0, err
	}

	return text, confidence, nil
}

func buildUserPrompt(query string, qctx models.QueryContext) string {
	prompt := "Pergunta: " + query
	if qctx.Category != "" && qctx.Category != models.CategoryGeneral {
		prompt += "\nCategoria: " + string(qctx.Category)
	}
	if qctx.PatientID != "" {
		prompt += "\nContexto: consulta vinculada a um paciente em acompanhamento."
	}
	return prompt
}
