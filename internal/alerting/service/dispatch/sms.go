package dispatch

import (
	"context"
	"net/http"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// SMSAdapter delivers through an HTTP SMS gateway. The message body is
// the notification title; SMS has no room for more.
type SMSAdapter struct {
	Endpoint string
	Client   *http.Client
}

func NewSMSAdapter(endpoint string, client *http.Client) *SMSAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &SMSAdapter{Endpoint: endpoint, Client: client}
}

func (a *SMSAdapter) Channel() model.Channel { return model.ChannelSMS }
func (a *SMSAdapter) Provider() string       { return "sms-gateway" }

func (a *SMSAdapter) Send(ctx context.Context, destination string, n *model.Notification) (SendResult, error) {
	return gatewaySend(ctx, a.Client, a.Endpoint, gatewayRequest{
		To:   destination,
		Body: n.Title,
	})
}
