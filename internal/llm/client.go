package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMissingAPIKey is returned before any request when no key is configured.
var ErrMissingAPIKey = errors.New("llm api key missing")

// Provider presets for OpenAI-compatible chat completion endpoints.
type Provider struct {
	Name         string
	BaseURL      string
	DefaultModel string
}

var (
	Venice   = Provider{Name: "venice", BaseURL: "https://api.venice.ai/api/v1", DefaultModel: "llama-3.3-70b"}
	Cerebras = Provider{Name: "cerebras", BaseURL: "https://api.cerebras.ai/v1", DefaultModel: "gpt-oss-120b"}
	OpenAI   = Provider{Name: "openai", BaseURL: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini"}
)

// ProviderByName resolves a configured provider name.
func ProviderByName(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "venice":
		return Venice, nil
	case "cerebras":
		return Cerebras, nil
	case "openai":
		return OpenAI, nil
	default:
		return Provider{}, fmt.Errorf("unsupported LLM provider: %s", name)
	}
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ChatClient streams completions from an OpenAI-compatible endpoint.
type ChatClient struct {
	HTTPClient  *http.Client
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

func NewChatClient(p Provider, apiKey, model, baseURL string) *ChatClient {
	if model == "" {
		model = p.DefaultModel
	}
	if baseURL == "" {
		baseURL = p.BaseURL
	}
	return &ChatClient{
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		APIKey:      apiKey,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Model:       model,
		MaxTokens:   150,
		Temperature: 0.8,
	}
}

// StreamChat sends messages and calls onDelta for every content fragment as it
// arrives. It returns the assembled reply once the stream ends.
func (c *ChatClient) StreamChat(ctx context.Context, messages []Message, onDelta func(string)) (string, error) {
	if c.APIKey == "" {
		return "", ErrMissingAPIKey
	}
	reqBody, err := json.Marshal(chatCompletionsRequest{
		Model:       c.Model,
		Messages:    messages,
		Stream:      true,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if data, ok := parseDataLine(line); ok {
			if data == "[DONE]" {
				break
			}
			var chunk chatChunk
			if jerr := json.Unmarshal([]byte(data), &chunk); jerr == nil && len(chunk.Choices) > 0 {
				if delta := chunk.Choices[0].Delta.Content; delta != "" {
					full.WriteString(delta)
					if onDelta != nil {
						onDelta(delta)
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return full.String(), fmt.Errorf("read stream: %w", err)
		}
	}
	return full.String(), nil
}

func parseDataLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
