package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.poe.com/v1"

// Client talks to the Poe OpenAI-compatible chat completions API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client. baseURL may be empty to use the
// public Poe endpoint.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

// NewClientWithHTTP is NewClient with a caller-supplied HTTP client, used
// when requests must go through a proxy or carry a custom timeout.
func NewClientWithHTTP(apiKey, baseURL string, httpClient *http.Client) *Client {
	c := NewClient(apiKey, baseURL)
	if httpClient != nil {
		c.http = httpClient
	}
	return c
}

// wire types for the OpenAI-compatible request/response

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentPart
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLPart `json:"image_url,omitempty"`
	File     *filePart     `json:"file,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatRequest struct {
	Model    string            `json:"model"`
	Messages []wireMessage     `json:"messages"`
	Stream   bool              `json:"stream"`
	Extra    map[string]string `json:"extra_body,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Chat sends the ordered turns to the named model and returns the reply.
// Any transport or non-200 upstream status is wrapped into ErrBackend.
func (c *Client) Chat(ctx context.Context, model string, turns []Turn) (*ChatResult, error) {
	req := chatRequest{
		Model:    model,
		Messages: make([]wireMessage, 0, len(turns)),
		Stream:   false,
	}
	for _, t := range turns {
		req.Messages = append(req.Messages, encodeTurn(t))
	}
	// Parameters ride on the final user turn only (web_search etc.).
	if n := len(turns); n > 0 && len(turns[n-1].Parameters) > 0 {
		req.Extra = turns[n-1].Parameters
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrBackend, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errText, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Warn("backend returned non-200",
			"model", model,
			"status", resp.StatusCode,
			"body", string(errText),
		)
		return nil, fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrBackend, err)
	}

	text := ""
	if len(parsed.Choices) > 0 {
		text = parsed.Choices[0].Message.Content
	}

	slog.Debug("backend chat completed",
		"model", model,
		"turns", len(turns),
		"reply_len", len(text),
		"total_tokens", parsed.Usage.TotalTokens,
		"elapsed", time.Since(start),
	)

	return &ChatResult{
		Text:  text,
		Usage: parsed.Usage,
		ID:    parsed.ID,
	}, nil
}

// encodeTurn converts a Turn into the wire shape: plain string content when
// there are no attachments, a multimodal content-part list otherwise.
func encodeTurn(t Turn) wireMessage {
	if len(t.Attachments) == 0 {
		return wireMessage{Role: t.Role, Content: t.Content}
	}

	parts := make([]contentPart, 0, len(t.Attachments)+1)
	if t.Content != "" {
		parts = append(parts, contentPart{Type: "text", Text: t.Content})
	}
	for _, att := range t.Attachments {
		dataURL := fmt.Sprintf("data:%s;base64,%s", att.MimeType, att.Base64)
		if strings.HasPrefix(att.MimeType, "image/") {
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURLPart{URL: dataURL},
			})
		} else {
			parts = append(parts, contentPart{
				Type: "file",
				File: &filePart{Filename: att.Filename, FileData: dataURL},
			})
		}
	}
	return wireMessage{Role: t.Role, Content: parts}
}
