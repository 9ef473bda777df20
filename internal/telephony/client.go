package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// command is the payload sent to the provider's POST /v1/calls/{id}/commands
// endpoint.
type command struct {
	Action    string `json:"action"`
	Text      string `json:"text,omitempty"`
	Extension string `json:"extension,omitempty"`
	Box       string `json:"box,omitempty"`
}

// envelope is the provider's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Client is an HTTP Controller against the call-control provider's REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

var _ Controller = (*Client)(nil)

// NewClient creates a call-control client. baseURL is the provider endpoint
// (e.g. "https://telephony.example.com"); token is the bearer credential
// sent with each request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

// Configured returns true if the client has a base URL and token.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

func (c *Client) Play(ctx context.Context, callID, text string) error {
	return c.send(ctx, callID, command{Action: "play", Text: text})
}

func (c *Client) Transfer(ctx context.Context, callID, extension string) error {
	return c.send(ctx, callID, command{Action: "transfer", Extension: extension})
}

func (c *Client) Voicemail(ctx context.Context, callID, box string) error {
	return c.send(ctx, callID, command{Action: "voicemail", Box: box})
}

func (c *Client) Hangup(ctx context.Context, callID string) error {
	return c.send(ctx, callID, command{Action: "hangup"})
}

func (c *Client) send(ctx context.Context, callID string, cmd command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("telephony: marshalling command: %w", err)
	}

	url := fmt.Sprintf("%s/v1/calls/%s/commands", c.baseURL, callID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telephony: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("telephony: sending %s command: %w", cmd.Action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("telephony: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return fmt.Errorf("telephony: provider error (status %d): %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("telephony: provider returned status %d", resp.StatusCode)
	}

	slog.Debug("call command sent",
		"call_id", callID,
		"action", cmd.Action,
	)
	return nil
}
