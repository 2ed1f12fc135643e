// Package provider abstracts the external messaging providers behind a
// capability interface and classifies their failures into a tagged result
// consumed by the dispatch pipeline. Provider failures are values, never
// errors: the worker's control flow is a plain branch.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/model"
)

type SendStatus int

const (
	SendSuccess SendStatus = iota
	SendRateLimited
	SendServerError
	SendValidationError
	SendCircuitOpen
)

func (s SendStatus) String() string {
	switch s {
	case SendSuccess:
		return "success"
	case SendRateLimited:
		return "rate_limited"
	case SendServerError:
		return "server_error"
	case SendValidationError:
		return "validation_error"
	case SendCircuitOpen:
		return "circuit_open"
	}
	return "unknown"
}

// Retryable reports whether the outcome may be retried later.
// Validation errors are permanent rejections by the provider.
func (s SendStatus) Retryable() bool {
	return s == SendRateLimited || s == SendServerError || s == SendCircuitOpen
}

// SendResult is the classified outcome of one provider send call.
type SendResult struct {
	Status            SendStatus
	ProviderMessageID string
	RetryAfterSeconds int // provider hint, rate limits only
	Detail            string
}

type InboundKind int

const (
	// InboundMessage is a brand-new message originated by the remote party.
	InboundMessage InboundKind = iota
	// InboundStatus confirms delivery or failure of an earlier outbound send.
	InboundStatus
)

// InboundEvent is the provider-neutral form of a webhook body.
type InboundEvent struct {
	Kind              InboundKind
	Provider          string
	EventID           string // idempotency key component
	ProviderMessageID string
	Channel           model.Channel
	From              string
	To                string
	Body              string
	Attachments       []string
	Status            string // "delivered" | "failed" for InboundStatus
	Timestamp         time.Time
}

// Provider is one external messaging service. Implementations must be safe
// for concurrent use.
type Provider interface {
	Name() string
	Send(ctx context.Context, m model.Message) SendResult
	ValidateInbound(headers http.Header, rawBody []byte) bool
	NormalizeInbound(rawBody []byte) (InboundEvent, error)
}
