package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twilioAgainst(t *testing.T, handler http.HandlerFunc) *TwilioProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTwilioProvider("twilio", srv.URL, "/send", "secret", 1000)
}

func TestTwilioSendSuccess(t *testing.T) {
	p := twilioAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"sid":"SM123"}`))
	})

	res := p.Send(context.Background(), model.Message{
		Channel:     model.ChannelSMS,
		FromAddress: "+15550001",
		ToAddress:   "+15550002",
		Body:        "hi",
	})
	assert.Equal(t, SendSuccess, res.Status)
	assert.Equal(t, "SM123", res.ProviderMessageID)
}

func TestTwilioSendRateLimited(t *testing.T) {
	p := twilioAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	res := p.Send(context.Background(), model.Message{Channel: model.ChannelSMS})
	assert.Equal(t, SendRateLimited, res.Status)
	assert.Equal(t, 30, res.RetryAfterSeconds)
}

func TestTwilioSendServerError(t *testing.T) {
	p := twilioAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	res := p.Send(context.Background(), model.Message{Channel: model.ChannelSMS})
	assert.Equal(t, SendServerError, res.Status)
}

func TestTwilioSendRejected(t *testing.T) {
	p := twilioAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	res := p.Send(context.Background(), model.Message{Channel: model.ChannelSMS})
	assert.Equal(t, SendValidationError, res.Status)
}

func TestTwilioSendMalformedSuccessBody(t *testing.T) {
	p := twilioAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	res := p.Send(context.Background(), model.Message{Channel: model.ChannelSMS})
	assert.Equal(t, SendServerError, res.Status, "2xx without a sid cannot be trusted")
}

func TestTwilioSendTransportError(t *testing.T) {
	p := NewTwilioProvider("twilio", "http://127.0.0.1:1", "/send", "secret", 200)
	res := p.Send(context.Background(), model.Message{Channel: model.ChannelSMS})
	assert.Equal(t, SendServerError, res.Status)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestTwilioValidateInbound(t *testing.T) {
	p := NewTwilioProvider("twilio", "http://example.test", "/send", "secret", 1000)
	body := []byte(`{"id":"evt-1"}`)

	h := http.Header{}
	h.Set("X-Twilio-Signature", signBody("secret", body))
	assert.True(t, p.ValidateInbound(h, body))

	h.Set("X-Twilio-Signature", signBody("wrong", body))
	assert.False(t, p.ValidateInbound(h, body))

	h.Del("X-Twilio-Signature")
	assert.False(t, p.ValidateInbound(h, body))
}

func TestTwilioNormalizeInboundMessage(t *testing.T) {
	p := NewTwilioProvider("twilio", "http://example.test", "/send", "secret", 1000)

	ev, err := p.NormalizeInbound([]byte(`{
		"id": "evt-1",
		"messaging_provider_id": "SM999",
		"from": "+15550001",
		"to": "+15550002",
		"type": "mms",
		"body": "photo",
		"attachments": ["https://cdn.example.test/a.jpg"],
		"timestamp": "2026-08-24T10:00:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, InboundMessage, ev.Kind)
	assert.Equal(t, "evt-1", ev.EventID)
	assert.Equal(t, "SM999", ev.ProviderMessageID)
	assert.Equal(t, model.ChannelMMS, ev.Channel)
	assert.Equal(t, []string{"https://cdn.example.test/a.jpg"}, ev.Attachments)
	assert.Equal(t, 2026, ev.Timestamp.Year())
}

func TestTwilioNormalizeInboundReceipt(t *testing.T) {
	p := NewTwilioProvider("twilio", "http://example.test", "/send", "secret", 1000)

	ev, err := p.NormalizeInbound([]byte(`{
		"messaging_provider_id": "SM999",
		"type": "sms",
		"status": "delivered"
	}`))
	require.NoError(t, err)

	assert.Equal(t, InboundStatus, ev.Kind)
	assert.Equal(t, "delivered", ev.Status)
	assert.Equal(t, "SM999", ev.EventID, "event id falls back to the provider message id")
}

func TestTwilioNormalizeInboundRejectsJunk(t *testing.T) {
	p := NewTwilioProvider("twilio", "http://example.test", "/send", "secret", 1000)

	_, err := p.NormalizeInbound([]byte(`not json`))
	assert.Error(t, err)

	_, err = p.NormalizeInbound([]byte(`{"id":"evt-1"}`))
	assert.Error(t, err, "missing messaging_provider_id")
}
