package providers

import (
	"context"
	"time"

	"github.com/relaybot/relaybot/pkg/logger"
)

const DefaultFallback = "An error occurred while processing your request."

// Result is the outcome of one inference call. Fallback is set when Text is
// the fixed apology rather than a model answer.
type Result struct {
	Text     string
	Err      error
	Fallback bool
}

// Gateway wraps a Provider so callers always get a text to send back.
type Gateway struct {
	provider Provider
	fallback string
}

func NewGateway(provider Provider, fallback string) *Gateway {
	if fallback == "" {
		fallback = DefaultFallback
	}
	return &Gateway{provider: provider, fallback: fallback}
}

func (g *Gateway) Generate(ctx context.Context, messages []Message) Result {
	start := time.Now()
	text, err := g.provider.Chat(ctx, messages)
	if err != nil {
		logger.ErrorCF("inference", "Inference call failed", map[string]interface{}{
			"error":       err.Error(),
			"messages":    len(messages),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return Result{Text: g.fallback, Err: err, Fallback: true}
	}

	logger.DebugCF("inference", "Inference call succeeded", map[string]interface{}{
		"messages":    len(messages),
		"reply_len":   len(text),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return Result{Text: text}
}
