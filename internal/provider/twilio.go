package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/model"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// TwilioProvider sends SMS/MMS through a Twilio-style HTTP API and
// normalizes its webhooks.
type TwilioProvider struct {
	name          string
	baseURL       string
	sendPath      string
	webhookSecret string
	client        *http.Client
}

func NewTwilioProvider(name, baseURL, sendPath, webhookSecret string, timeoutMs int) *TwilioProvider {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	return &TwilioProvider{
		name:          name,
		baseURL:       baseURL,
		sendPath:      sendPath,
		webhookSecret: webhookSecret,
		client:        &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

func (p *TwilioProvider) Name() string { return p.name }

type twilioSendReq struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	Type        string   `json:"type"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments,omitempty"`
}

type twilioSendResp struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
}

func (p *TwilioProvider) Send(ctx context.Context, m model.Message) SendResult {
	reqBody, _ := json.Marshal(twilioSendReq{
		From:        m.FromAddress,
		To:          m.ToAddress,
		Type:        m.Channel.String(),
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
		// transport failure: the provider may be fine, retry later
		return SendResult{Status: SendServerError, Detail: err.Error()}
	}
	defer res.Body.Close()

	return classifyResponse(p.name, res)
}

func classifyResponse(name string, res *http.Response) SendResult {
	switch {
	case res.StatusCode/100 == 2:
		var body twilioSendResp
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.SID == "" {
			return SendResult{Status: SendServerError, Detail: fmt.Sprintf("provider=%s malformed success body", name)}
		}
		return SendResult{Status: SendSuccess, ProviderMessageID: body.SID}
	case res.StatusCode == http.StatusTooManyRequests:
		hint, _ := strconv.Atoi(res.Header.Get("Retry-After"))
		return SendResult{
			Status:            SendRateLimited,
			RetryAfterSeconds: hint,
			Detail:            fmt.Sprintf("provider=%s status=429", name),
		}
	case res.StatusCode/100 == 5:
		return SendResult{Status: SendServerError, Detail: fmt.Sprintf("provider=%s status=%d", name, res.StatusCode)}
	default:
		return SendResult{Status: SendValidationError, Detail: fmt.Sprintf("provider=%s status=%d", name, res.StatusCode)}
	}
}

func (p *TwilioProvider) ValidateInbound(headers http.Header, rawBody []byte) bool {
	return validSignature(p.webhookSecret, rawBody, headers.Get(twilioSignatureHeader))
}

type twilioWebhook struct {
	ID                  string   `json:"id"`
	MessagingProviderID string   `json:"messaging_provider_id"`
	From                string   `json:"from"`
	To                  string   `json:"to"`
	Type                string   `json:"type"`
	Body                string   `json:"body"`
	Attachments         []string `json:"attachments"`
	Status              string   `json:"status"`
	Timestamp           string   `json:"timestamp"`
}

func (p *TwilioProvider) NormalizeInbound(rawBody []byte) (InboundEvent, error) {
	var w twilioWebhook
	if err := json.Unmarshal(rawBody, &w); err != nil {
		return InboundEvent{}, fmt.Errorf("twilio webhook: %w", err)
	}
	if w.MessagingProviderID == "" {
		return InboundEvent{}, fmt.Errorf("twilio webhook: missing messaging_provider_id")
	}

	channel := model.ChannelSMS
	if c, ok := model.ParseChannel(w.Type); ok {
		channel = c
	}

	ev := InboundEvent{
		Provider:          p.name,
		EventID:           w.ID,
		ProviderMessageID: w.MessagingProviderID,
		Channel:           channel,
		From:              w.From,
		To:                w.To,
		Body:              w.Body,
		Attachments:       w.Attachments,
		Timestamp:         parseTimestamp(w.Timestamp),
	}
	if ev.EventID == "" {
		ev.EventID = w.MessagingProviderID
	}

	// A status field marks a delivery receipt for an earlier outbound send;
	// anything else is a new inbound message.
	switch w.Status {
	case "delivered", "failed":
		ev.Kind = InboundStatus
		ev.Status = w.Status
	default:
		ev.Kind = InboundMessage
	}
	return ev, nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
