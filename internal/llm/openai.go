package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tardoc-pauschale-server/internal/config"
	"github.com/tardoc-pauschale-server/internal/domain"
)

// OpenAIClient speaks the chat-completions shape of any OpenAI-compatible
// endpoint, addressed by base URL and API key. Ollama, OpenRouter and
// Azure-style gateways all go through this path.
type OpenAIClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for one provider entry.
func NewOpenAIClient(name string, cfg config.Provider) *OpenAIClient {
	return &OpenAIClient{
		name:       name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
	}
}

// Name returns the configured provider name.
func (c *OpenAIClient) Name() string { return c.name }

type openAIRequest struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Chat sends one completion request. Parameters a model does not support
// are dropped or renamed according to the capability flags.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, opts Options, caps config.ModelCapabilities) (*ChatResult, error) {
	reqBody := openAIRequest{Model: model, Messages: messages}
	if opts.Temperature != nil && caps.SupportsTemperature {
		reqBody.Temperature = opts.Temperature
	}
	if opts.MaxTokens != nil {
		if caps.SupportsMaxTokensNamed {
			reqBody.MaxTokens = opts.MaxTokens
		} else {
			reqBody.MaxCompletionTokens = opts.MaxTokens
		}
	}
	if opts.JSONResponse && caps.SupportsResponseFormat {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode == http.StatusBadRequest {
		if paramErr := parseUnsupportedParam(respBody); paramErr != nil {
			return nil, paramErr
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s returned status %d: %s", c.name, resp.StatusCode, truncate(string(respBody), 300))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("provider returned no choices")
	}

	return &ChatResult{
		Content: parsed.Choices[0].Message.Content,
		Usage: domain.TokenUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		},
	}, nil
}

// parseUnsupportedParam matches the 400 body against the known
// unsupported-parameter shape. Only temperature, max_tokens and
// response_format are recoverable.
func parseUnsupportedParam(body []byte) *UnsupportedParamError {
	var e openAIError
	if err := json.Unmarshal(body, &e); err != nil {
		return nil
	}
	if e.Error.Code != "unsupported_value" && e.Error.Type != "invalid_request_error" {
		return nil
	}
	switch e.Error.Param {
	case "temperature", "max_tokens", "response_format":
		return &UnsupportedParamError{Param: e.Error.Param}
	}
	// Some backends only name the parameter in the message.
	for _, p := range []string{"temperature", "max_tokens", "response_format"} {
		if strings.Contains(e.Error.Message, "'"+p+"'") {
			return &UnsupportedParamError{Param: p}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
