package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file, applies defaults and validates.
// An empty path yields the defaults (still validated, so the backend
// target must arrive via environment).
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides layers WARDEN_* environment variables over the file.
// Environment always wins.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.ListenAddress, "WARDEN_SERVER_LISTEN_ADDRESS")
	setDuration(&cfg.Server.ShutdownTimeout, "WARDEN_SERVER_SHUTDOWN_TIMEOUT")

	setString(&cfg.Logging.Level, "WARDEN_LOG_LEVEL")
	setString(&cfg.Logging.Format, "WARDEN_LOG_FORMAT")

	setString(&cfg.Backend.Target, "WARDEN_BACKEND_TARGET")
	setString(&cfg.Backend.UpstreamHeader, "WARDEN_BACKEND_UPSTREAM_HEADER")
	setDuration(&cfg.Backend.ConnectTimeout, "WARDEN_BACKEND_CONNECT_TIMEOUT")
	setDuration(&cfg.Backend.ReadTimeout, "WARDEN_BACKEND_READ_TIMEOUT")
	setDuration(&cfg.Backend.TotalTimeout, "WARDEN_BACKEND_TOTAL_TIMEOUT")
	setInt64(&cfg.Backend.MaxBodyBytes, "WARDEN_BACKEND_MAX_BODY_BYTES")
	setInt(&cfg.Backend.MaxInFlight, "WARDEN_BACKEND_MAX_IN_FLIGHT")

	setString(&cfg.Pipeline.OverCapPolicy, "WARDEN_PIPELINE_OVER_CAP_POLICY")
	setInt64(&cfg.Pipeline.InspectLimit, "WARDEN_PIPELINE_INSPECT_LIMIT")
	setDuration(&cfg.Pipeline.RuleBudget, "WARDEN_PIPELINE_RULE_BUDGET")

	setString(&cfg.Rules.StorePath, "WARDEN_RULES_STORE_PATH")
	setString(&cfg.Rules.Dir, "WARDEN_RULES_DIR")
	setBool(&cfg.Rules.Watch, "WARDEN_RULES_WATCH")

	setBool(&cfg.Blocklist.Enabled, "WARDEN_BLOCKLIST_ENABLED")
	setString(&cfg.Blocklist.RedisAddr, "WARDEN_BLOCKLIST_REDIS_ADDR")
	setString(&cfg.Blocklist.RedisPassword, "WARDEN_BLOCKLIST_REDIS_PASSWORD")
	setInt(&cfg.Blocklist.RedisDB, "WARDEN_BLOCKLIST_REDIS_DB")

	setString(&cfg.Sampler.ArchivePath, "WARDEN_SAMPLER_ARCHIVE_PATH")
	setInt(&cfg.Sampler.WindowSize, "WARDEN_SAMPLER_WINDOW_SIZE")

	setString(&cfg.LLM.BaseURL, "WARDEN_LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "WARDEN_LLM_API_KEY")
	setString(&cfg.LLM.ChatModel, "WARDEN_LLM_CHAT_MODEL")
	setString(&cfg.LLM.EmbedModel, "WARDEN_LLM_EMBED_MODEL")

	setString(&cfg.Lifecycle.Schedule, "WARDEN_LIFECYCLE_SCHEDULE")
	setDuration(&cfg.Lifecycle.IncidentWindow, "WARDEN_LIFECYCLE_INCIDENT_WINDOW")
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dst = parsed
		}
	}
}

func setInt64(dst *int64, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			*dst = parsed
		}
	}
}
