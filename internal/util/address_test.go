package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 000-0001": "+15550000001",
		"00491701234567":    "+491701234567",
		"15550000001":       "+15550000001",
		"+15550000001":      "+15550000001",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), "input %q", in)
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeAddress("  Alice@Example.COM "))
	assert.Equal(t, "+15550000001", NormalizeAddress("1 (555) 000-0001"))
}

func TestIsEmail(t *testing.T) {
	assert.True(t, IsEmail("a@b.test"))
	assert.False(t, IsEmail("+15550000001"))
}
