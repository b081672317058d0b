package presence

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceID_CachedForProcessLifetime(t *testing.T) {
	id := InstanceID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, InstanceID())
}

func TestNewInstanceID_EnvOverride(t *testing.T) {
	t.Setenv("RELAY_INSTANCE_ID", "relay-test-1")
	assert.Equal(t, "relay-test-1", newInstanceID())
}

func TestNewInstanceID_HostnamePrefix(t *testing.T) {
	t.Setenv("RELAY_INSTANCE_ID", "")

	id := newInstanceID()
	host, err := os.Hostname()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, host+"-"), "id %q should carry the hostname prefix", id)
	// Distinct per call when not pinned
	assert.NotEqual(t, id, newInstanceID())
}
