package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/bpqa-go/internal/budget"
	"github.com/54b3r/bpqa-go/internal/logging"
)

// Generator sends one prompt to a chat model and returns the completion
// text. It is safe for concurrent use when the underlying model is.
type Generator struct {
	// model is the eino chat model.
	model model.BaseChatModel
	// name identifies the backend and model in logs, e.g. "openai:gpt-4o".
	name string
	// opts are the per-call generation options.
	opts []model.Option
	// timeout bounds each call; zero means no extra bound.
	timeout time.Duration
}

// NewGenerator wraps m. Sampling parameters in tuning are passed on every
// call; a zero TopP or MaxTokens leaves the backend default. A nil tuning
// sends no sampling parameters at all.
func NewGenerator(m model.BaseChatModel, name string, tuning *SharedTuning, timeout time.Duration) *Generator {
	if tuning == nil {
		return &Generator{model: m, name: name, timeout: timeout}
	}
	var opts []model.Option
	if tuning.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(tuning.MaxTokens))
	}
	opts = append(opts, model.WithTemperature(tuning.Temperature))
	if tuning.TopP > 0 {
		opts = append(opts, model.WithTopP(tuning.TopP))
	}
	return &Generator{model: m, name: name, opts: opts, timeout: timeout}
}

// NewFromEnv builds a Generator from environment configuration. A missing
// API key or endpoint wraps [ErrMissingCredential].
func NewFromEnv(ctx context.Context, timeout time.Duration) (*Generator, error) {
	cfg := ConfigFromEnv()
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tuning := &cfg.Tuning
	if cfg.Backend == BackendAzure && isAzureReasoningModel(cfg.AzureOpenAI.Deployment) {
		tuning = nil
	}
	return NewGenerator(m, string(cfg.Backend)+":"+cfg.ModelName(), tuning, timeout), nil
}

// Name returns the backend and model identifier.
func (g *Generator) Name() string { return g.name }

// Generate sends prompt as a single user message. Failures, including an
// empty completion, wrap [ErrGenerationFailure].
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	msgs := []*schema.Message{schema.UserMessage(prompt)}
	started := time.Now()
	resp, err := g.model.Generate(ctx, msgs, g.opts...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s timed out after %s: %w", ErrGenerationFailure, g.name, g.timeout, err)
		}
		return "", fmt.Errorf("%w: %s: %w", ErrGenerationFailure, g.name, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: %s returned an empty completion", ErrGenerationFailure, g.name)
	}

	logging.FromContext(ctx).Debug("provider: generated completion",
		slog.String("model", g.name),
		slog.Int("prompt_tokens_est", budget.EstimateMessages(msgs)),
		slog.Int("completion_tokens_est", budget.Estimate(resp.Content)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return resp.Content, nil
}
