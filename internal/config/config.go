// Package config loads conductor configuration from the environment.
//
// A .env file is honored when present, which keeps local development close to
// the deployed container environment. Configuration is validated once at
// startup; an invalid configuration is the only condition that terminates the
// process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the conductor's runtime configuration.
type Config struct {
	// PostgresConnURL is the connection string of the Postgres instance
	// hosting both pgmq queues.
	PostgresConnURL string `validate:"required"`

	// ControlPlaneEventsQueue receives lifecycle events from the control
	// plane.
	ControlPlaneEventsQueue string `validate:"required"`

	// DataPlaneEventsQueue carries status reports back.
	DataPlaneEventsQueue string `validate:"required"`

	// DataPlaneID identifies this data plane on outgoing reports.
	DataPlaneID string `validate:"required"`

	// BaseDomain is the DNS suffix of instance connection hostnames.
	BaseDomain string `validate:"required,fqdn"`

	// Workers is the number of concurrent message processors.
	Workers int `validate:"min=1,max=64"`

	// VisibilityTimeout is the queue lease duration. It must exceed
	// ReadinessTimeout so a message cannot be leased twice while a worker is
	// still waiting on readiness.
	VisibilityTimeout time.Duration `validate:"min=1s"`

	// ReadinessTimeout bounds the wait for an applied instance to become
	// connectable.
	ReadinessTimeout time.Duration `validate:"min=1s"`

	// PollInterval is the idle sleep between reads of an empty queue.
	PollInterval time.Duration `validate:"min=100ms"`

	// Default sizing applied when a lifecycle event omits a field.
	DefaultImage    string `validate:"required"`
	DefaultCPU      string `validate:"required"`
	DefaultMemory   string `validate:"required"`
	DefaultStorage  string `validate:"required"`
	DefaultPort     int32  `validate:"min=1,max=65535"`
	DefaultReplicas int32  `validate:"min=1"`
}

// Load reads configuration from the environment (and a .env file when one
// exists) and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		PostgresConnURL:         strings.TrimSpace(os.Getenv("PG_CONN_URL")),
		ControlPlaneEventsQueue: getenv("CONTROL_PLANE_EVENTS_QUEUE", "saas_queue"),
		DataPlaneEventsQueue:    getenv("DATA_PLANE_EVENTS_QUEUE", "data_plane_events"),
		DataPlaneID:             strings.TrimSpace(os.Getenv("DATA_PLANE_ID")),
		BaseDomain:              strings.TrimSpace(os.Getenv("DATA_PLANE_BASEDOMAIN")),
		Workers:                 getenvInt("CONDUCTOR_WORKERS", 4),
		VisibilityTimeout:       getenvSeconds("QUEUE_VISIBILITY_TIMEOUT_SECONDS", 120),
		ReadinessTimeout:        getenvSeconds("READINESS_TIMEOUT_SECONDS", 100),
		PollInterval:            time.Second,
		DefaultImage:            getenv("DEFAULT_INSTANCE_IMAGE", "quay.io/coredb/coredb-pg:latest"),
		DefaultCPU:              getenv("DEFAULT_INSTANCE_CPU", "1"),
		DefaultMemory:           getenv("DEFAULT_INSTANCE_MEMORY", "1Gi"),
		DefaultStorage:          getenv("DEFAULT_INSTANCE_STORAGE", "8Gi"),
		DefaultPort:             5432,
		DefaultReplicas:         1,
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.VisibilityTimeout <= cfg.ReadinessTimeout {
		return nil, fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT_SECONDS (%s) must exceed READINESS_TIMEOUT_SECONDS (%s)",
			cfg.VisibilityTimeout, cfg.ReadinessTimeout)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvSeconds(key string, def int) time.Duration {
	return time.Duration(getenvInt(key, def)) * time.Second
}
