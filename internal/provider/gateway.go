package provider

import (
	"context"

	"github.com/alexey-tyurin/messaging-service/internal/model"
)

type guarded struct {
	p  Provider
	br *MicroBreaker
}

// Gateway routes sends to the provider registered for the message channel,
// each wrapped in its own circuit breaker. The map is built once at startup
// and passed by reference into the workers; there is no ambient registry.
type Gateway struct {
	byChannel map[model.Channel]guarded
	byName    map[string]Provider
}

func NewGateway() *Gateway {
	return &Gateway{
		byChannel: make(map[model.Channel]guarded),
		byName:    make(map[string]Provider),
	}
}

// Register binds p to the given channels behind br. Later registrations for
// the same channel win, matching config file order.
func (g *Gateway) Register(p Provider, br *MicroBreaker, channels ...model.Channel) {
	for _, c := range channels {
		g.byChannel[c] = guarded{p: p, br: br}
	}
	g.byName[p.Name()] = p
}

// ForName returns the provider registered under name, for webhook
// validation and normalization.
func (g *Gateway) ForName(name string) (Provider, bool) {
	p, ok := g.byName[name]
	return p, ok
}

// ProviderName returns the name of the provider serving a channel.
func (g *Gateway) ProviderName(c model.Channel) string {
	if gp, ok := g.byChannel[c]; ok {
		return gp.p.Name()
	}
	return ""
}

// Send dispatches m through the channel's provider. An open breaker
// short-circuits to SendCircuitOpen without contacting the provider.
// Rate limits and server errors count toward the breaker; success and
// validation errors are healthy provider responses and reset it.
func (g *Gateway) Send(ctx context.Context, m model.Message) SendResult {
	gp, ok := g.byChannel[m.Channel]
	if !ok {
		return SendResult{Status: SendValidationError, Detail: "no provider for channel " + m.Channel.String()}
	}

	if !gp.br.TryAcquire() {
		return SendResult{Status: SendCircuitOpen, Detail: "breaker open for " + gp.p.Name()}
	}

	res := gp.p.Send(ctx, m)
	switch res.Status {
	case SendRateLimited, SendServerError:
		gp.br.OnFailure()
	default:
		gp.br.OnSuccess()
	}
	return res
}
