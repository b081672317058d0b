package config

import (
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"relay-service/internal/relay"
)

const (
	DefaultPresencePolicy = "last-wins"
	DefaultSendBuffer     = 256
)

type Config struct {
	Environment       string `mapstructure:"ENVIRONMENT"`
	HTTPServerAddress string `mapstructure:"HTTP_SERVER_ADDRESS"`

	// RedisAddr enables the cross-instance presence feed. Empty disables it.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// PresencePolicy resolves a second announcement by an already-online
	// user: "first-wins", "last-wins" or "multi".
	PresencePolicy string `mapstructure:"PRESENCE_POLICY"`

	// SendBufferSize is the per-connection outbound queue depth.
	SendBufferSize int `mapstructure:"SEND_BUFFER_SIZE"`
}

// GetPresencePolicy maps the configured policy name to a relay.Policy.
// An unknown name falls back to the default and logs a warning.
func (c *Config) GetPresencePolicy(logger *zap.Logger) relay.Policy {
	switch c.PresencePolicy {
	case "first-wins":
		return relay.PolicyFirstWins
	case "last-wins", "":
		return relay.PolicyLastWins
	case "multi":
		return relay.PolicyMultiDevice
	default:
		if logger != nil {
			logger.Warn("invalid PRESENCE_POLICY, using default",
				zap.String("configured", c.PresencePolicy),
				zap.String("default", DefaultPresencePolicy))
		}
		return relay.PolicyLastWins
	}
}

// GetSendBufferSize returns the outbound queue depth per connection.
// If the configured value is invalid (non-positive), it returns the default value and logs a warning.
func (c *Config) GetSendBufferSize(logger *zap.Logger) int {
	if c.SendBufferSize <= 0 {
		if logger != nil {
			logger.Warn("invalid SEND_BUFFER_SIZE, using default",
				zap.Int("configured", c.SendBufferSize),
				zap.Int("default", DefaultSendBuffer))
		}
		return DefaultSendBuffer
	}
	return c.SendBufferSize
}

func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("app")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
