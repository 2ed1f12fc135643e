// Package bootstrap builds the config-driven pieces shared by the serve and
// worker entrypoints: the queue backend and the provider gateway.
package bootstrap

import (
	"fmt"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/config"
	"github.com/alexey-tyurin/messaging-service/internal/metrics"
	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/provider"
	"github.com/alexey-tyurin/messaging-service/internal/queue"
	"github.com/redis/go-redis/v9"
)

// NewQueue selects the queue backend from config.
func NewQueue(cfg config.Config, rds *redis.Client) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "", "redis":
		return queue.NewRedisStreams(rds, cfg.Queue.ClaimAfter), nil
	case "kafka":
		return queue.NewKafkaQueue(queue.KafkaOpts{
			Brokers:        cfg.Kafka.Brokers,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		}), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// NewGateway registers every enabled provider from config behind its own
// circuit breaker.
func NewGateway(cfg config.Config) (*provider.Gateway, error) {
	gw := provider.NewGateway()

	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}

		var p provider.Provider
		switch pc.Name {
		case "twilio":
			p = provider.NewTwilioProvider(pc.Name, pc.BaseURL, pc.SendPath, pc.WebhookSecret, pc.TimeoutMs)
		case "sendgrid":
			p = provider.NewSendGridProvider(pc.Name, pc.BaseURL, pc.SendPath, pc.WebhookSecret, pc.TimeoutMs)
		default:
			return nil, fmt.Errorf("unknown provider %q", pc.Name)
		}

		var channels []model.Channel
		for _, raw := range pc.Channels {
			c, ok := model.ParseChannel(raw)
			if !ok {
				return nil, fmt.Errorf("provider %s: unknown channel %q", pc.Name, raw)
			}
			channels = append(channels, c)
		}
		if len(channels) == 0 {
			return nil, fmt.Errorf("provider %s: no channels configured", pc.Name)
		}

		br := provider.NewMicroBreaker(cfg.Breaker.FailThreshold, cfg.Breaker.Cooldown)
		name := pc.Name
		br.OnOpen(func() {
			metrics.BreakerOpensTotal.WithLabelValues(name).Inc()
		})

		gw.Register(p, br, channels...)
	}
	return gw, nil
}
