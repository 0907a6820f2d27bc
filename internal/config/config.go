// Package config loads the collab node's configuration from environment
// variables via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration for a collab node.
type Config struct {
	Port  int
	Host  string
	Env   string
	Debug bool

	SharedStoreURL string
	PubSubChannel  string

	DurableStorePath string

	AuthSecret string

	WriterQueueSize            int
	WriterShutdownDrainSeconds int

	CORSOrigins []string
}

// Load reads configuration from the environment, applying sensible
// defaults. It returns an error if a required variable (AUTH_SECRET) is
// missing, which the caller should treat as a fatal init failure (exit 1).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("PORT", 8080)
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("ENV", "development")
	v.SetDefault("DEBUG", false)
	v.SetDefault("SHARED_STORE_URL", "redis://localhost:6379/0")
	v.SetDefault("PUBSUB_CHANNEL", "todo:updates")
	v.SetDefault("DURABLE_STORE_URL", "collab.sqlite3")
	v.SetDefault("WRITER_QUEUE_SIZE", 1000)
	v.SetDefault("WRITER_SHUTDOWN_DRAIN_SECONDS", 5)
	v.SetDefault("CORS_ORIGINS", "*")

	secret := v.GetString("AUTH_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}

	return &Config{
		Port:                       v.GetInt("PORT"),
		Host:                       v.GetString("HOST"),
		Env:                        v.GetString("ENV"),
		Debug:                      v.GetBool("DEBUG"),
		SharedStoreURL:             v.GetString("SHARED_STORE_URL"),
		PubSubChannel:              v.GetString("PUBSUB_CHANNEL"),
		DurableStorePath:           v.GetString("DURABLE_STORE_URL"),
		AuthSecret:                 secret,
		WriterQueueSize:            v.GetInt("WRITER_QUEUE_SIZE"),
		WriterShutdownDrainSeconds: v.GetInt("WRITER_SHUTDOWN_DRAIN_SECONDS"),
		CORSOrigins:                v.GetStringSlice("CORS_ORIGINS"),
	}, nil
}

// ShutdownDrain is the configured drain timeout as a duration.
func (c *Config) ShutdownDrain() time.Duration {
	return time.Duration(c.WriterShutdownDrainSeconds) * time.Second
}

// Addr is the host:port the HTTP/WebSocket listener binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
