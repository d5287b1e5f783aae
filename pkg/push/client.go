// Package push provides a client for the downstream push-delivery provider.
//
// The provider exposes a single HTTP endpoint that accepts a rendered
// message addressed to either a broadcast topic or a list of device tokens
// and returns an opaque message id on success.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Message is a fully resolved payload handed to the provider. Exactly one
// of Topic or Tokens is set.
type Message struct {
	Topic    string
	Tokens   []string
	Title    string
	Body     string
	ImageURL string
	Data     map[string]interface{}
}

// Client sends messages to the configured push endpoint.
type Client struct {
	endpoint  string
	serverKey string
	client    *http.Client
}

// NewClient creates a push Client. The timeout bounds every send attempt;
// a timed-out send is reported as a delivery failure.
func NewClient(endpoint, serverKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint:  endpoint,
		serverKey: serverKey,
		client:    &http.Client{Timeout: timeout},
	}
}

// sendRequest is the provider wire format for a delivery request.
type sendRequest struct {
	To              string                 `json:"to,omitempty"`
	RegistrationIDs []string               `json:"registration_ids,omitempty"`
	Notification    notificationPayload    `json:"notification"`
	Data            map[string]interface{} `json:"data,omitempty"`
}

type notificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send delivers msg and returns the provider-assigned message id.
//
// A non-200 response, a provider-reported error, or a missing message id
// all surface as errors.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	reqBody := sendRequest{
		Notification: notificationPayload{
			Title: msg.Title,
			Body:  msg.Body,
			Image: msg.ImageURL,
		},
		Data: msg.Data,
	}

	if msg.Topic != "" {
		reqBody.To = "/topics/" + msg.Topic
	} else {
		reqBody.RegistrationIDs = msg.Tokens
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.serverKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("push provider error: %s", resp.Status)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if out.Error != "" {
		return "", fmt.Errorf("push provider error: %s", out.Error)
	}

	if out.MessageID == "" {
		return "", fmt.Errorf("push provider returned no message id")
	}

	return out.MessageID, nil
}
