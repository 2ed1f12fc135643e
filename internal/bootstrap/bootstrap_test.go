package bootstrap

import (
	"testing"

	"github.com/alexey-tyurin/messaging-service/internal/config"
	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueueBackendSelection(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	q, err := NewQueue(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, q)

	cfg.Queue.Backend = "kafka"
	q, err = NewQueue(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, q)

	cfg.Queue.Backend = "rabbitmq"
	_, err = NewQueue(cfg, nil)
	assert.Error(t, err)
}

func TestNewGatewayFromDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	gw, err := NewGateway(cfg)
	require.NoError(t, err)

	assert.Equal(t, "twilio", gw.ProviderName(model.ChannelSMS))
	assert.Equal(t, "twilio", gw.ProviderName(model.ChannelMMS))
	assert.Equal(t, "sendgrid", gw.ProviderName(model.ChannelEmail))

	_, ok := gw.ForName("twilio")
	assert.True(t, ok)
	_, ok = gw.ForName("nexmo")
	assert.False(t, ok)
}

func TestNewGatewayRejectsBadConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Providers[0].Name = "nexmo"
	_, err = NewGateway(cfg)
	assert.Error(t, err)

	cfg, _ = config.Load("")
	cfg.Providers[0].Channels = []string{"fax"}
	_, err = NewGateway(cfg)
	assert.Error(t, err)

	cfg, _ = config.Load("")
	cfg.Providers[0].Channels = nil
	_, err = NewGateway(cfg)
	assert.Error(t, err)
}

func TestNewGatewaySkipsDisabledProviders(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Providers[1].Enabled = false
	gw, err := NewGateway(cfg)
	require.NoError(t, err)

	assert.Equal(t, "", gw.ProviderName(model.ChannelEmail))
	assert.Equal(t, "twilio", gw.ProviderName(model.ChannelSMS))
}
