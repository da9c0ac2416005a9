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

// OpenAIDriver serves the secondary (gpt) provider via the Chat Completions
// API.
type OpenAIDriver struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewOpenAIDriver creates the gpt driver. An empty apiKey yields an
// unavailable driver.
func NewOpenAIDriver(endpoint, apiKey, model string) *OpenAIDriver {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	return &OpenAIDriver{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *OpenAIDriver) ID() models.ProviderID { return models.ProviderGPT }

func (d *OpenAIDriver) Available() bool { return d.apiKey != "" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (d *OpenAIDriver) Generate(ctx context.Context, p Prompt) (*Completion, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("openai: api key not configured")
	}

	messages := []openAIMessage{}
	if p.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: p.User})

	body, _ := json.Marshal(openAIRequest{
		Model:     d.model,
		Messages:  messages,
		MaxTokens: p.MaxTokens,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}

	text := ""
	if len(oaiResp.Choices) > 0 {
		text = oaiResp.Choices[0].Message.Content
	}

	return &Completion{
		Text:        text,
		TotalTokens: oaiResp.Usage.TotalTokens,
	}, nil
}

// HealthCheck sends a minimal 1-token request to validate credentials.
func (d *OpenAIDriver) HealthCheck(ctx context.Context) error {
	if d.apiKey == "" {
		return fmt.Errorf("openai: api key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	body, _ := json.Marshal(openAIRequest{
		Model:     d.model,
		Messages:  []openAIMessage{{Role: "user", Content: "Say OK"}},
		MaxTokens: 1,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}
	return nil
}
