// Package llm models the LLM provider as an injected capability. Every
// caller pairs a Generator with a deterministic fallback; a Generator
// error never propagates as a request failure.
package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/pkg/anthropic"
)

// Generator produces text from a system instruction plus a user prompt.
// Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Available() bool
}

// AnthropicGenerator backs Generator with the Anthropic messages API.
// Calls retry on transient failures and trip a shared circuit breaker,
// so a degraded provider fails fast into callers' fallbacks instead of
// stacking up slow requests.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	phase     string
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
}

// NewAnthropic creates a Generator using the given client and model.
// The phase label is attached to cost attribution logs.
func NewAnthropic(client anthropic.Client, model string, maxTokens int64, phase string) *AnthropicGenerator {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.OnRetry = resilience.RetryLogger("anthropic", phase)
	return &AnthropicGenerator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		phase:     phase,
		retry:     retry,
		breaker:   resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

func (g *AnthropicGenerator) Available() bool { return g.client != nil }

func (g *AnthropicGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	if g.client == nil {
		return "", eris.New("llm: no client configured")
	}
	text, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (string, error) {
		var out string
		cbErr := g.breaker.Execute(ctx, func(ctx context.Context) error {
			resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     g.model,
				MaxTokens: g.maxTokens,
				System:    []anthropic.SystemBlock{{Text: system}},
				Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
			})
			if err != nil {
				return err
			}
			resp.Usage.LogCost(g.model, g.phase)
			out = resp.Text()
			return nil
		})
		return out, cbErr
	})
	if err != nil {
		return "", eris.Wrap(err, "llm: generate")
	}
	if text == "" {
		return "", eris.New("llm: empty response")
	}
	return text, nil
}

// Null is the offline Generator: never available, always errors. Users
// fall through to their deterministic path. Used in tests and when no
// API key is configured.
type Null struct{}

func (Null) Available() bool { return false }

func (Null) Generate(context.Context, string, string) (string, error) {
	return "", eris.New("llm: offline")
}
