package openai_impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qingyh6/ai/helper"
	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// New returns a production client. Custom base URLs get a /v1 suffix
// when they lack one, matching what the OpenAI API expects.
func New(baseURL, apiKey, modelName string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	trimmed := strings.TrimRight(baseURL, "/")
	if trimmed != "https://api.openai.com/v1" && !strings.HasSuffix(trimmed, "/v1") && !strings.HasSuffix(trimmed, "/api") {
		log.Infof("Correcting OpenAI base URL from %q to %q", baseURL, trimmed+"/v1")
		trimmed += "/v1"
	}
	return &Client{baseURL: trimmed, apiKey: apiKey, model: modelName, http: httpClient}
}

func (c *Client) Name() string  { return "openai" }
func (c *Client) Model() string { return c.model }

// ReviewFile reviews one file's structured changes.
func (c *Client) ReviewFile(ctx context.Context, fc *model.FileChangeSet) (string, error) {
	userPrompt, err := helper.CreateFileReviewPrompt(fc)
	if err != nil {
		return "", err
	}
	log.Infof("Sending review request for %s to model %s", fc.Path, c.model)
	return c.ChatComplete(ctx, helper.DetailedReviewSystemPrompt, userPrompt)
}

func (c *Client) ChatComplete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	return completeWithRetry(ctx, c.http, c.baseURL+"/chat/completions", "Bearer "+c.apiKey, body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// completeWithRetry posts the completion request, retrying rate limits
// with exponential backoff.
func completeWithRetry(ctx context.Context, httpClient *http.Client, url, authHeader string, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling completion request: %w", err)
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		content, retryable, err := completeOnce(ctx, httpClient, url, authHeader, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
		if attempt < maxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			log.Warnf("Completion rate limited, retrying in %v: %v", backoff, err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return "", lastErr
}

func completeOnce(ctx context.Context, httpClient *http.Client, url, authHeader string, payload []byte) (content string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("creating completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("sending completion request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("reading completion response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", true, fmt.Errorf("completion rate limited (status 429)")
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("completion failed with status %d: %s", resp.StatusCode, truncate(string(rawBody), 500))
	}

	var parsed chatResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", false, fmt.Errorf("decoding completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("completion API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", false, fmt.Errorf("completion response has no content")
	}
	return parsed.Choices[0].Message.Content, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
