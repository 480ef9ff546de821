package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18900,
			RateLimitRPM: 120,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
		},
		Data: DataConfig{
			Dir: "~/.fleetd",
		},
		Workers: WorkersConfig{
			WorkRoot:       "~/.fleetd/work",
			AgentCommand:   []string{"claude", "--output-format", "stream-json"},
			GracePeriodSec: 10,
			RestartCap:     3,
			RingCapacity:   300,
		},
		Planner: PlannerConfig{
			TickMs:    1000,
			BatchSize: 16,
			GlobalCap: 50,
		},
		Scheduler: SchedulerConfig{
			Autostart:          true,
			TickSec:            30,
			MaxConcurrentTasks: 5,
			DefaultRetries:     2,
			RetryDelaySec:      60,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "fleetd",
			Protocol:    "grpc",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("FLEETD_HOST", &c.Gateway.Host)
	envInt("FLEETD_PORT", &c.Gateway.Port)
	envStr("FLEETD_SECRET", &c.Gateway.Secret)
	envInt("FLEETD_RATE_LIMIT_RPM", &c.Gateway.RateLimitRPM)

	envStr("FLEETD_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("FLEETD_DATA_DIR", &c.Data.Dir)

	envStr("FLEETD_WORK_ROOT", &c.Workers.WorkRoot)
	envBool("FLEETD_FORCE_MEMORY", &c.Workers.ForceMemory)
	envInt("FLEETD_RESTART_CAP", &c.Workers.RestartCap)
	envInt("FLEETD_GLOBAL_CAP", &c.Planner.GlobalCap)

	envBool("FLEETD_SCHEDULER_AUTOSTART", &c.Scheduler.Autostart)
	envInt("FLEETD_SCHEDULER_MAX_TASKS", &c.Scheduler.MaxConcurrentTasks)
	envStr("FLEETD_SCHEDULER_SEED", &c.Scheduler.SeedFile)
	envStr("FLEETD_WEBHOOK_URL", &c.Scheduler.WebhookURL)

	envBool("FLEETD_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("FLEETD_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("FLEETD_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("FLEETD_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("FLEETD_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// MaskedCopy returns a deep copy with secret fields masked, for the
// config inspection surface.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	if cp.Gateway.Secret != "" {
		cp.Gateway.Secret = "***"
	}
	if cp.Database.PostgresDSN != "" {
		cp.Database.PostgresDSN = "***"
	}
	return cp
}

// DataDir returns the expanded data directory.
func (c *Config) DataDir() string { return ExpandHome(c.Data.Dir) }

// WorkRoot returns the expanded worker working-directory root.
func (c *Config) WorkRoot() string { return ExpandHome(c.Workers.WorkRoot) }

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
