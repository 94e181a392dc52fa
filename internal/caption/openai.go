package caption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const captionPrompt = "Describe this image in one short sentence. " +
	"Reply with the description only, no preamble."

// OpenAICaptioner captions images via an OpenAI-compatible vision chat model.
// The underlying client is safe for concurrent use.
type OpenAICaptioner struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAICaptioner creates a captioner against an OpenAI-compatible API.
// baseURL may be empty for the default endpoint.
func NewOpenAICaptioner(apiKey, baseURL, model string, maxTokens int) *OpenAICaptioner {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if maxTokens <= 0 {
		maxTokens = 64
	}
	return &OpenAICaptioner{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Caption sends the image as an inline base64 data URL and returns the model's
// one-sentence description. The pipeline hands us normalized JPEG bytes.
func (c *OpenAICaptioner) Caption(ctx context.Context, image []byte) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: captionPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("caption request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty caption response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("model returned an empty caption")
	}
	return text, nil
}

// Close is a no-op for OpenAICaptioner.
func (c *OpenAICaptioner) Close() error {
	return nil
}
