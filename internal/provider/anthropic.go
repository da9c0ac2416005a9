package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ossature/querygen/pkg/models"
)

// AnthropicDriver serves the primary (claude) provider via the Anthropic
// Messages API.
type AnthropicDriver struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewAnthropicDriver creates the claude driver. An empty apiKey yields an
// unavailable driver; it stays registered so health checks report it.
func NewAnthropicDriver(endpoint, apiKey, model string) *AnthropicDriver {
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	return &AnthropicDriver{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *AnthropicDriver) ID() models.ProviderID { return models.ProviderClaude }

func (d *AnthropicDriver) Available() bool { return d.apiKey != "" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (d *AnthropicDriver) Generate(ctx context.Context, p Prompt) (*Completion, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key not configured")
	}

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body, _ := json.Marshal(anthropicRequest{
		Model:     d.model,
		System:    p.System,
		Messages:  []anthropicMessage{{Role: "user", Content: p.User}},
		MaxTokens: maxTokens,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", d.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anthResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	text := ""
	for _, c := range anthResp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	return &Completion{
		Text:        text,
		TotalTokens: anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
	}, nil
}

// HealthCheck sends a minimal 1-token request to validate credentials.
func (d *AnthropicDriver) HealthCheck(ctx context.Context) error {
	if d.apiKey == "" {
		return fmt.Errorf("anthropic: api key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	body, _ := json.Marshal(anthropicRequest{
		Model:     d.model,
		Messages:  []anthropicMessage{{Role: "user", Content: "Say OK"}},
		MaxTokens: 1,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", d.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, string(respBody))
	}
	return nil
}
