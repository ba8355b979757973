package ai

import (
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

// ErrEmptyAnswer marks a well-formed completion with no usable content.
// Callers treat it like any upstream failure: inform the user, charge nothing.
var ErrEmptyAnswer = errors.New("empty completion answer")

type Client struct {
	EndpointURL  string
	APIKey       string
	Model        string
	SystemPrompt string
	HTTPClient   *http.Client
}

func NewClient(endpointURL, apiKey, model, systemPrompt string) *Client {
	return &Client{
		EndpointURL:  endpointURL,
		APIKey:       apiKey,
		Model:        model,
		SystemPrompt: systemPrompt,
		HTTPClient: &http.Client{
			Timeout: 180 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the prompt to the chat-completions endpoint and returns the
// cleaned answer text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.SystemPrompt},
			{Role: "user", Content: prompt},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.EndpointURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("non-JSON completion response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 {
		detail := "no details"
		if parsed.Error != nil {
			detail = parsed.Error.Message
		}
		return "", fmt.Errorf("completion api error (status %d): %s", resp.StatusCode, detail)
	}

	if len(parsed.Choices) == 0 {
		return "", ErrEmptyAnswer
	}
	answer := strings.TrimSpace(strings.ReplaceAll(parsed.Choices[0].Message.Content, "**", ""))
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}
