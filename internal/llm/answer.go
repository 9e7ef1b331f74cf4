package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ziadkadry99/ragpipe/internal/rag"
)

const answerSystem = "You answer questions about a document collection using only the excerpts you are given."

const answerInstruction = "Please answer the question based on the provided context. " +
	"If the context doesn't contain enough information to answer the question, please say so."

// AnswerPrompt builds the user message sent to the model: the passages
// joined by blank lines, followed by the question.
func AnswerPrompt(question string, passages []string) string {
	return fmt.Sprintf("Context: %s\n\nQuestion: %s\n\n%s",
		strings.Join(passages, "\n\n"), question, answerInstruction)
}

// Answerer turns retrieved passages into a grounded answer.
type Answerer struct {
	provider    Provider
	maxTokens   int
	temperature float64
	retry       rag.RetryPolicy
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// AnswererOptions tunes an Answerer.
type AnswererOptions struct {
	MaxTokens   int
	Temperature float64
	Retry       rag.RetryPolicy
	RateLimit   float64 // requests per second, 0 = unlimited
	RateBurst   int
	Logger      *slog.Logger
}

// NewAnswerer wraps provider.
func NewAnswerer(provider Provider, opts AnswererOptions) *Answerer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &Answerer{
		provider:    provider,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		retry:       opts.Retry,
		limiter:     rate.NewLimiter(limit, max(opts.RateBurst, 1)),
		logger:      opts.Logger.With("component", "llm", "provider", provider.Name()),
	}
}

// Generate asks the model to answer question from passages. Transient
// provider failures are retried under the configured policy.
func (a *Answerer) Generate(ctx context.Context, question string, passages []string) (string, error) {
	req := CompletionRequest{
		System: answerSystem,
		Messages: []Message{
			{Role: RoleUser, Content: AnswerPrompt(question, passages)},
		},
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}

	var resp *CompletionResponse
	err := rag.Retry(ctx, a.retry, a.logger, func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		r, err := a.provider.Complete(ctx, req)
		if err != nil {
			return rag.GenerationErr("complete", IsTransient(err), err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generating answer with %s: %w", a.provider.Name(), err)
	}

	a.logger.Debug("answer generated",
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
	return strings.TrimSpace(resp.Content), nil
}
