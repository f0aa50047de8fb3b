// Package genai wraps the external generative-language API: a thin HTTP
// client, reply parsing, and the credential-failover retry loop.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-1.5-flash"
	defaultTimeout = 30 * time.Second
)

// CallError is an HTTP-level failure from the generate endpoint. It carries
// the status code so callers can classify rate-limit failures.
type CallError struct {
	StatusCode int
	Body       string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("generate call failed with status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// RateLimited reports whether this failure is quota/rate-limit class.
func (e *CallError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Client posts prompts to a Gemini-style generateContent endpoint. The
// http.Client timeout is the only bound on a hung call; when it fires the
// attempt resolves to an error and the retry loop proceeds.
type Client struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// NewClient creates a generate-call client. Zero-value arguments fall back to
// the defaults above.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    baseURL,
		Model:      model,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	SystemInstruction *content  `json:"system_instruction,omitempty"`
	Contents          []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate issues one generate call with the given credential and returns the
// raw model text. HTTP-level failures come back as *CallError.
func (c *Client) Generate(ctx context.Context, systemInstruction, userQuery, credential string) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: userQuery}}}},
	}
	if systemInstruction != "" {
		reqBody.SystemInstruction = &content{Parts: []part{{Text: systemInstruction}}}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling generate request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.BaseURL, c.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("error creating generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", credential)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending generate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading generate response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &CallError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("error unmarshaling generate response: %w", err)
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generate response contained no candidates")
	}

	text := genResp.Candidates[0].Content.Parts[0].Text
	logrus.Debugf("Generate call returned %d bytes of model text", len(text))
	return text, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
