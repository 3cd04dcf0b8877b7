package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/metrics"
	"github.com/smartclass/backend/internal/storage/models"
	"github.com/smartclass/backend/pkg/circuitbreaker"
	"github.com/smartclass/backend/pkg/logger"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Client talks to an OpenAI-compatible chat completion API.
// Completions are never retried: a repeated call costs money and may answer twice.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
}

type CompletionRequest struct {
	Purpose     string
	Messages    []openai.ChatCompletionMessage
	Temperature float32
	MaxTokens   int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

var errEmptyChoices = errors.New("completion returned no choices")

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Logger:           logger.GetLogger(),
	})

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("base_url", oc.BaseURL),
		zap.Duration("timeout", cfg.Timeout),
	)

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		cb:          cb,
	}
}

// Complete runs one chat completion. Every failure, including timeouts and an open circuit,
// is returned as a completion_failure.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    req.Messages,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errEmptyChoices
		}

		metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

		logger.Debug("LLM completion generated",
			zap.String("purpose", req.Purpose),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		result = &CompletionResponse{
			Content: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
		return nil
	})
	if err != nil {
		metrics.LLMRequests.WithLabelValues(req.Purpose, "error").Inc()
		logger.Error("LLM completion failed",
			zap.String("purpose", req.Purpose),
			zap.String("breaker", c.cb.Name()),
			zap.String("breaker_state", c.cb.State().String()),
			zap.Error(err),
		)
		return nil, apperr.Completion(completionDetail(req.Purpose, err), err)
	}

	metrics.LLMRequests.WithLabelValues(req.Purpose, "ok").Inc()
	return result, nil
}

func completionDetail(purpose string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return purpose + " timed out"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return purpose + " temporarily unavailable"
	default:
		return purpose + " failed"
	}
}

const chatSystemPrompt = `You are a teaching assistant for a class. Answer the student's question clearly and concisely.
Use the course materials provided below when they are relevant and mention which material you relied on.
If the materials do not cover the question, say so briefly and answer from general knowledge.`

// CompleteChat answers question given the preceding turns and the grounding documents.
func (c *Client) CompleteChat(ctx context.Context, question string, history []models.ChatTurn, docs []models.GroundingDocument) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: chatSystemPrompt + formatDocuments(docs),
	})

	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Message})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})

	resp, err := c.Complete(ctx, CompletionRequest{
		Purpose:  "chatbot",
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", apperr.Completion("chatbot returned an empty answer", nil)
	}

	logger.Info("Chat answer generated",
		zap.Int("history_turns", len(history)),
		zap.Int("documents", len(docs)),
		zap.Int("answer_length", len(answer)),
	)
	return answer, nil
}

func formatDocuments(docs []models.GroundingDocument) string {
	if len(docs) == 0 {
		return "\n\nNo course materials matched this question."
	}

	var b strings.Builder
	b.WriteString("\n\nCourse materials:\n")
	for i, doc := range docs {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, doc.Title, doc.Text)
	}
	return b.String()
}
