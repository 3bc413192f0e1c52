package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/relaybot/relaybot/pkg/utils"
)

var defaultResponsePaths = []string{"message.content", "response", "content"}

// HTTPProvider posts the message window to a generic chat endpoint and reads
// the reply from the first configured JSON path that yields text.
type HTTPProvider struct {
	client        *resty.Client
	endpoint      string
	model         string
	responsePaths []string
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

func NewHTTPProvider(apiBase, endpoint, model, apiKey string, responsePaths []string) *HTTPProvider {
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiBase, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	if len(responsePaths) == 0 {
		responsePaths = defaultResponsePaths
	}
	if endpoint != "" && !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return &HTTPProvider{
		client:        client,
		endpoint:      endpoint,
		model:         model,
		responsePaths: responsePaths,
	}
}

func (p *HTTPProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(chatRequest{Model: p.model, Messages: messages, Stream: false}).
		Post(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("inference request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("inference endpoint returned %d: %s", resp.StatusCode(), utils.Truncate(resp.String(), 200))
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("inference endpoint returned malformed JSON")
	}
	for _, path := range p.responsePaths {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String(), nil
		}
	}
	return "", fmt.Errorf("inference response has no text at %s", strings.Join(p.responsePaths, ", "))
}
