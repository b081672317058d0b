package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"relay-service/internal/relay"
)

func TestGetPresencePolicy(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		want       relay.Policy
	}{
		{"first wins", "first-wins", relay.PolicyFirstWins},
		{"last wins", "last-wins", relay.PolicyLastWins},
		{"multi device", "multi", relay.PolicyMultiDevice},
		{"empty defaults to last wins", "", relay.PolicyLastWins},
		{"unknown falls back to default", "best-effort", relay.PolicyLastWins},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{PresencePolicy: tt.configured}
			assert.Equal(t, tt.want, cfg.GetPresencePolicy(zap.NewNop()))
		})
	}
}

// For any non-positive send buffer size, GetSendBufferSize returns the
// default; any positive value is passed through.
func TestProperty_SendBufferFallback(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("non-positive buffer size returns default", prop.ForAll(
		func(invalidValue int) bool {
			cfg := &Config{SendBufferSize: invalidValue}
			return cfg.GetSendBufferSize(nil) == DefaultSendBuffer
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("positive buffer size returns configured value", prop.ForAll(
		func(validValue int) bool {
			cfg := &Config{SendBufferSize: validValue}
			return cfg.GetSendBufferSize(nil) == validValue
		},
		gen.IntRange(1, 100000),
	))

	properties.TestingRun(t)
}
