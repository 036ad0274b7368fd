package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// EmailAdapter delivers through an HTTP email gateway.
type EmailAdapter struct {
	Endpoint string
	Client   *http.Client
}

func NewEmailAdapter(endpoint string, client *http.Client) *EmailAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &EmailAdapter{Endpoint: endpoint, Client: client}
}

func (a *EmailAdapter) Channel() model.Channel { return model.ChannelEmail }
func (a *EmailAdapter) Provider() string       { return "email-gateway" }

type gatewayRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

type gatewayResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func (a *EmailAdapter) Send(ctx context.Context, destination string, n *model.Notification) (SendResult, error) {
	return gatewaySend(ctx, a.Client, a.Endpoint, gatewayRequest{
		To:      destination,
		Subject: n.Title,
		Body:    n.Body,
	})
}

// gatewaySend posts a message to an HTTP gateway and classifies the
// outcome: network errors, timeouts and 5xx/429 are transient; other
// 4xx are permanent client-side rejections.
func gatewaySend(ctx context.Context, client *http.Client, endpoint string, msg gatewayRequest) (SendResult, error) {
	body, _ := json.Marshal(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, model.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		// includes context deadline exceeded on the bounded send timeout
		return SendResult{}, model.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var gr gatewayResponse
		if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
			return SendResult{}, model.Transient(fmt.Errorf("decode gateway response: %w", err))
		}
		return SendResult{MessageID: gr.MessageID, Delivered: gr.Status == "" || gr.Status == "delivered"}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return SendResult{}, model.Transient(fmt.Errorf("gateway status %d", resp.StatusCode))
	default:
		return SendResult{}, model.Permanent(fmt.Errorf("gateway status %d", resp.StatusCode))
	}
}
