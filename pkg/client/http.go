package client

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/windowpet/companiond/api/types"
)

// Client talks to a running companiond instance.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	apiKey string
}

// NewClient creates a new Client instance pointed at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxConnsPerHost:     options.MaxConnsPerHost,
		MaxIdleConns:        options.MaxIdleConns,
		MaxIdleConnsPerHost: options.MaxIdleConnsPerHost,
		IdleConnTimeout:     options.IdleConnTimeout,
	}
	if options.ignoreTLSCert {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout:   options.Timeout,
			Transport: transport,
		},
		apiKey: options.APIKey,
	}, nil
}

// EmitSignal reports one trigger event and returns the acknowledgement.
func (c *Client) EmitSignal(req types.SignalRequest) (*types.SignalResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error marshaling signal: %w", err)
	}

	resp, err := c.do(http.MethodPost, "/signal", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sigErr := types.SignalError{}
		if json.Unmarshal(data, &sigErr) == nil && sigErr.Error != "" {
			return nil, fmt.Errorf("error: %s", sigErr.Error)
		}
		return nil, fmt.Errorf("error: received status code %d", resp.StatusCode)
	}

	var ack types.SignalResponse
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("error unmarshaling response: %w", err)
	}
	return &ack, nil
}

// RecentMessages fetches up to limit recent outcome messages, newest first.
// limit <= 0 uses the server default.
func (c *Client) RecentMessages(limit int) ([]types.OutcomeMessage, error) {
	path := "/messages/recent"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	var messages []types.OutcomeMessage
	if err := c.getJSON(path, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// KeyHealth fetches the credential pool health report.
func (c *Client) KeyHealth() (*types.KeyPoolReport, error) {
	report := &types.KeyPoolReport{}
	if err := c.getJSON("/keys/health", report); err != nil {
		return nil, err
	}
	return report, nil
}

// CoordinatorStats fetches the coordinator counters and gate state.
func (c *Client) CoordinatorStats() (*types.CoordinatorStats, error) {
	stats := &types.CoordinatorStats{}
	if err := c.getJSON("/coordinator/stats", stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) getJSON(path string, out interface{}) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error: received status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}

func (c *Client) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending %s request: %w", method, err)
	}
	return resp, nil
}
