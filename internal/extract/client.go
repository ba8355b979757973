package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the text-extraction sidecar: it downloads the file behind
// the given URL, runs OCR or PDF text extraction and returns plain text.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type extractRequest struct {
	FileURL string `json:"file_url"`
}

type extractResponse struct {
	Text string `json:"text"`
}

func (c *Client) FromImage(ctx context.Context, fileURL string) (string, error) {
	return c.doRequest(ctx, "/extract/image", fileURL)
}

func (c *Client) FromPDF(ctx context.Context, fileURL string) (string, error) {
	return c.doRequest(ctx, "/extract/pdf", fileURL)
}

func (c *Client) doRequest(ctx context.Context, endpoint, fileURL string) (string, error) {
	jsonBody, err := json.Marshal(extractRequest{FileURL: fileURL})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("extractor error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	var parsed extractResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return parsed.Text, nil
}
