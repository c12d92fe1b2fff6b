package qianwen_impl

import (
	"context"
	"net/http"

	"github.com/qingyh6/ai/helper"
	"github.com/qingyh6/ai/helper/llm/openai_impl"
	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// Client reviews through Qianwen's OpenAI-compatible endpoint
// (dashscope compatible-mode). The wire format is identical, so the
// OpenAI client does the transport; only identity and defaults differ.
type Client struct {
	inner *openai_impl.Client
}

func New(baseURL, apiKey, modelName string, httpClient *http.Client) *Client {
	return &Client{inner: openai_impl.New(baseURL, apiKey, modelName, httpClient)}
}

func (c *Client) Name() string  { return "qianwen" }
func (c *Client) Model() string { return c.inner.Model() }

func (c *Client) ReviewFile(ctx context.Context, fc *model.FileChangeSet) (string, error) {
	userPrompt, err := helper.CreateFileReviewPrompt(fc)
	if err != nil {
		return "", err
	}
	log.Infof("Sending review request for %s to Qianwen model %s", fc.Path, c.Model())
	return c.ChatComplete(ctx, helper.DetailedReviewSystemPrompt, userPrompt)
}

func (c *Client) ChatComplete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.inner.ChatComplete(ctx, systemPrompt, userPrompt)
}
