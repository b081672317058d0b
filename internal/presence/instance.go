package presence

import (
	"os"
	"sync"

	"github.com/google/uuid"
)

var cachedInstanceID = sync.OnceValue(newInstanceID)

// InstanceID identifies this relay process on the feed, so a subscriber
// can tell its own transitions from a sibling's. Stable for the process
// lifetime.
func InstanceID() string {
	return cachedInstanceID()
}

// newInstanceID builds hostname-<short uuid>, unless RELAY_INSTANCE_ID
// pins an explicit id for the deployment.
func newInstanceID() string {
	if id := os.Getenv("RELAY_INSTANCE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "relay"
	}
	return host + "-" + uuid.NewString()[:8]
}
