package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/model"
)

const sendgridSignatureHeader = "X-Sendgrid-Signature"

// SendGridProvider sends email through a SendGrid-style HTTP API.
type SendGridProvider struct {
	name          string
	baseURL       string
	sendPath      string
	webhookSecret string
	client        *http.Client
}

func NewSendGridProvider(name, baseURL, sendPath, webhookSecret string, timeoutMs int) *SendGridProvider {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	return &SendGridProvider{
		name:          name,
		baseURL:       baseURL,
		sendPath:      sendPath,
		webhookSecret: webhookSecret,
		client:        &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

func (p *SendGridProvider) Name() string { return p.name }

type sendgridSendReq struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments,omitempty"`
}

type sendgridSendResp struct {
	XillioID string `json:"xillio_id"`
}

func (p *SendGridProvider) Send(ctx context.Context, m model.Message) SendResult {
	reqBody, _ := json.Marshal(sendgridSendReq{
		From:        m.FromAddress,
		To:          m.ToAddress,
		Body:        m.Body,
		Attachments: m.Attachments,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.sendPath, bytes.NewReader(reqBody))
	if err != nil {
		return SendResult{Status: SendValidationError, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return SendResult{Status: SendServerError, Detail: err.Error()}
	}
	defer res.Body.Close()

	if res.StatusCode/100 == 2 {
		var body sendgridSendResp
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.XillioID == "" {
			return SendResult{Status: SendServerError, Detail: fmt.Sprintf("provider=%s malformed success body", p.name)}
		}
		return SendResult{Status: SendSuccess, ProviderMessageID: body.XillioID}
	}
	return classifyResponse(p.name, res)
}

func (p *SendGridProvider) ValidateInbound(headers http.Header, rawBody []byte) bool {
	return validSignature(p.webhookSecret, rawBody, headers.Get(sendgridSignatureHeader))
}

type sendgridWebhook struct {
	ID          string   `json:"id"`
	XillioID    string   `json:"xillio_id"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
	Status      string   `json:"status"`
	Timestamp   string   `json:"timestamp"`
}

func (p *SendGridProvider) NormalizeInbound(rawBody []byte) (InboundEvent, error) {
	var w sendgridWebhook
	if err := json.Unmarshal(rawBody, &w); err != nil {
		return InboundEvent{}, fmt.Errorf("sendgrid webhook: %w", err)
	}
	if w.XillioID == "" {
		return InboundEvent{}, fmt.Errorf("sendgrid webhook: missing xillio_id")
	}

	ev := InboundEvent{
		Provider:          p.name,
		EventID:           w.ID,
		ProviderMessageID: w.XillioID,
		Channel:           model.ChannelEmail,
		From:              w.From,
		To:                w.To,
		Body:              w.Body,
		Attachments:       w.Attachments,
		Timestamp:         parseTimestamp(w.Timestamp),
	}
	if ev.EventID == "" {
		ev.EventID = w.XillioID
	}

	switch w.Status {
	case "delivered", "failed":
		ev.Kind = InboundStatus
		ev.Status = w.Status
	default:
		ev.Kind = InboundMessage
	}
	return ev, nil
}
