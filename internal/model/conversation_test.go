package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParticipantPairOrdering(t *testing.T) {
	a, b := ParticipantPair("+15550002", "+15550001")
	assert.Equal(t, "+15550001", a)
	assert.Equal(t, "+15550002", b)

	// both directions resolve to the same pair
	a2, b2 := ParticipantPair("+15550001", "+15550002")
	assert.Equal(t, a, a2)
	assert.Equal(t, b, b2)
}

func TestParseChannel(t *testing.T) {
	c, ok := ParseChannel("  SMS ")
	assert.True(t, ok)
	assert.Equal(t, ChannelSMS, c)

	_, ok = ParseChannel("fax")
	assert.False(t, ok)

	_, ok = ParseChannel("")
	assert.False(t, ok)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusSending.Terminal())
	assert.False(t, StatusSent.Terminal())
	assert.False(t, StatusRetry.Terminal())
}
