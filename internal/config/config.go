// Package config holds the file-backed process configuration. The file
// is JSON5 so operators can comment it; FLEETD_* environment variables
// override file values.
package config

import "sync"

// Config is the root configuration document.
type Config struct {
	mu sync.RWMutex

	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database"`
	Data      DataConfig      `json:"data"`
	Workers   WorkersConfig   `json:"workers"`
	Planner   PlannerConfig   `json:"planner"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Secret       string `json:"secret"` // HS256 token signing secret
	RateLimitRPM int    `json:"rateLimitRpm"`
}

type DatabaseConfig struct {
	PostgresDSN  string `json:"postgresDsn"`
	MaxOpenConns int    `json:"maxOpenConns"`
}

type DataConfig struct {
	// Dir holds per-node local state: the worker event journal.
	Dir string `json:"dir"`
}

type WorkersConfig struct {
	WorkRoot       string   `json:"workRoot"`
	AgentCommand   []string `json:"agentCommand"`
	ForceMemory    bool     `json:"forceMemory"` // in-memory transport, no child processes
	GracePeriodSec int      `json:"gracePeriodSec"`
	RestartCap     int      `json:"restartCap"`
	RingCapacity   int      `json:"ringCapacity"`
	TaskTimeoutSec int      `json:"taskTimeoutSec"`
}

type PlannerConfig struct {
	TickMs    int `json:"tickMs"`
	BatchSize int `json:"batchSize"`
	GlobalCap int `json:"globalCap"`
}

type SchedulerConfig struct {
	Autostart          bool   `json:"autostart"`
	TickSec            int    `json:"tickSec"`
	MaxConcurrentTasks int    `json:"maxConcurrentTasks"`
	DefaultRetries     int    `json:"defaultRetries"`
	RetryDelaySec      int    `json:"retryDelaySec"`
	// SeedFile, when set, is a JSON5 document of schedules and templates
	// synced into the store on start and on file change.
	SeedFile   string `json:"seedFile"`
	WebhookURL string `json:"webhookUrl"` // failure notifications
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Protocol    string `json:"protocol"` // "grpc" or "http"
	ServiceName string `json:"serviceName"`
	Insecure    bool   `json:"insecure"`
}
