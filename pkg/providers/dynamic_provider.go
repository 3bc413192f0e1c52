package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/relaybot/relaybot/pkg/config"
)

// DynamicProvider resolves the inference configuration at request time so
// model or endpoint changes saved through the dashboard apply without a restart.
type DynamicProvider struct {
	cfg *config.Config

	mu       sync.Mutex
	lastSig  string
	provider Provider
}

func NewDynamicProvider(cfg *config.Config) *DynamicProvider {
	return &DynamicProvider{cfg: cfg}
}

func (p *DynamicProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.cfg == nil {
		return "", fmt.Errorf("dynamic provider: config not set")
	}

	// Snapshot config to avoid data races with dashboard updates.
	provider, err := p.getOrCreateProvider(p.cfg.InferenceSnapshot())
	if err != nil {
		return "", err
	}
	return provider.Chat(ctx, messages)
}

func (p *DynamicProvider) getOrCreateProvider(inf config.InferenceConfig) (Provider, error) {
	sig := providerSignature(inf)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.provider != nil && p.lastSig == sig {
		return p.provider, nil
	}

	next, err := CreateProvider(inf)
	if err != nil {
		return nil, err
	}
	p.provider = next
	p.lastSig = sig
	return p.provider, nil
}

func providerSignature(inf config.InferenceConfig) string {
	return strings.Join([]string{
		inf.Provider,
		inf.APIBase,
		inf.Endpoint,
		inf.Model,
		inf.APIKey,
		strings.Join(inf.ResponsePaths, ","),
	}, "|")
}

// CreateProvider builds the concrete provider named by inf.Provider.
func CreateProvider(inf config.InferenceConfig) (Provider, error) {
	switch inf.Provider {
	case "", "http":
		if inf.APIBase == "" {
			return nil, fmt.Errorf("inference api_base is required")
		}
		return NewHTTPProvider(inf.APIBase, inf.Endpoint, inf.Model, inf.APIKey, inf.ResponsePaths), nil
	case "ollama":
		return NewOllamaProvider(inf.APIBase, inf.Model)
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s", inf.Provider)
	}
}
