package provider

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/stretchr/testify/assert"
)

type stubProvider struct {
	name    string
	results []SendResult
	calls   int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Send(_ context.Context, _ model.Message) SendResult {
	res := s.results[s.calls%len(s.results)]
	s.calls++
	return res
}

func (s *stubProvider) ValidateInbound(http.Header, []byte) bool { return true }

func (s *stubProvider) NormalizeInbound([]byte) (InboundEvent, error) {
	return InboundEvent{}, nil
}

func TestGatewayRoutesByChannel(t *testing.T) {
	gw := NewGateway()
	sms := &stubProvider{name: "twilio", results: []SendResult{{Status: SendSuccess, ProviderMessageID: "SM1"}}}
	email := &stubProvider{name: "sendgrid", results: []SendResult{{Status: SendSuccess, ProviderMessageID: "SG1"}}}
	gw.Register(sms, NewMicroBreaker(5, time.Minute), model.ChannelSMS, model.ChannelMMS)
	gw.Register(email, NewMicroBreaker(5, time.Minute), model.ChannelEmail)

	res := gw.Send(context.Background(), model.Message{Channel: model.ChannelMMS})
	assert.Equal(t, SendSuccess, res.Status)
	assert.Equal(t, "SM1", res.ProviderMessageID)

	res = gw.Send(context.Background(), model.Message{Channel: model.ChannelEmail})
	assert.Equal(t, "SG1", res.ProviderMessageID)

	assert.Equal(t, "twilio", gw.ProviderName(model.ChannelSMS))
	assert.Equal(t, "sendgrid", gw.ProviderName(model.ChannelEmail))

	p, ok := gw.ForName("twilio")
	assert.True(t, ok)
	assert.Equal(t, "twilio", p.Name())
}

func TestGatewayUnknownChannel(t *testing.T) {
	gw := NewGateway()
	res := gw.Send(context.Background(), model.Message{Channel: model.ChannelSMS})
	assert.Equal(t, SendValidationError, res.Status)
}

func TestGatewayBreakerShortCircuits(t *testing.T) {
	gw := NewGateway()
	p := &stubProvider{name: "twilio", results: []SendResult{{Status: SendServerError, Detail: "upstream 500"}}}
	gw.Register(p, NewMicroBreaker(2, time.Minute), model.ChannelSMS)

	m := model.Message{Channel: model.ChannelSMS}
	gw.Send(context.Background(), m)
	gw.Send(context.Background(), m)

	res := gw.Send(context.Background(), m)
	assert.Equal(t, SendCircuitOpen, res.Status)
	assert.Equal(t, 2, p.calls, "open breaker never reaches the provider")
}

func TestGatewayValidationErrorDoesNotTrip(t *testing.T) {
	gw := NewGateway()
	p := &stubProvider{name: "twilio", results: []SendResult{{Status: SendValidationError}}}
	gw.Register(p, NewMicroBreaker(2, time.Minute), model.ChannelSMS)

	m := model.Message{Channel: model.ChannelSMS}
	for i := 0; i < 5; i++ {
		res := gw.Send(context.Background(), m)
		assert.Equal(t, SendValidationError, res.Status)
	}
	assert.Equal(t, 5, p.calls, "validation errors are healthy responses")
}

func TestSendStatusRetryable(t *testing.T) {
	assert.True(t, SendRateLimited.Retryable())
	assert.True(t, SendServerError.Retryable())
	assert.True(t, SendCircuitOpen.Retryable())
	assert.False(t, SendSuccess.Retryable())
	assert.False(t, SendValidationError.Retryable())
}
