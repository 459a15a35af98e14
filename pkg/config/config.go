// Package config defines warden's configuration surface: a YAML file
// with WARDEN_* environment overrides.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Backend   BackendConfig   `yaml:"backend"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Rules     RulesConfig     `yaml:"rules"`
	Blocklist BlocklistConfig `yaml:"blocklist"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	LLM       LLMConfig       `yaml:"llm"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Verify    VerifyConfig    `yaml:"verify"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddress is the enforcement + admin listener, host:port.
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout, WriteTimeout and IdleTimeout are the net/http server
	// timeouts.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// BackendConfig configures the forwarder.
type BackendConfig struct {
	// Target is the default upstream base URL.
	Target string `yaml:"target"`

	// UpstreamHeader optionally names a per-request override header.
	UpstreamHeader string `yaml:"upstream_header"`

	// AllowedUpstreams is the override allowlist.
	AllowedUpstreams []string `yaml:"allowed_upstreams"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	TotalTimeout   time.Duration `yaml:"total_timeout"`

	// MaxBodyBytes caps forwarded request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// MaxInFlight bounds concurrent backend exchanges.
	MaxInFlight int `yaml:"max_in_flight"`
}

// PipelineConfig configures the enforcement pipeline.
type PipelineConfig struct {
	// InspectLimit caps body bytes shown to the matcher.
	InspectLimit int64 `yaml:"inspect_limit"`

	// OverCapPolicy is inspect-prefix or reject.
	OverCapPolicy string `yaml:"over_cap_policy"`

	// RuleBudget bounds a single rule evaluation.
	RuleBudget time.Duration `yaml:"rule_budget"`

	// BlockTTL is how long block-ip denies keep a client blocklisted.
	BlockTTL time.Duration `yaml:"block_ttl"`
}

// RulesConfig configures rule persistence and manual rule files.
type RulesConfig struct {
	// StorePath is the SQLite file holding published generations.
	StorePath string `yaml:"store_path"`

	// Dir is the directory of operator-authored YAML rule files; empty
	// disables manual rules.
	Dir string `yaml:"dir"`

	// Watch enables fsnotify hot reload of Dir.
	Watch bool `yaml:"watch"`

	// HistoryLimit bounds retained retired generations.
	HistoryLimit int `yaml:"history_limit"`
}

// BlocklistConfig configures the IP blocklist.
type BlocklistConfig struct {
	// Enabled toggles the blocklist check.
	Enabled bool `yaml:"enabled"`

	// RedisAddr selects the Redis backend when set; empty uses the
	// in-process list.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// SamplerConfig configures the incident sampler.
type SamplerConfig struct {
	WindowSize int           `yaml:"window_size"`
	WindowAge  time.Duration `yaml:"window_age"`
	QueueSize  int           `yaml:"queue_size"`

	// DedupThreshold is the near-duplicate cosine similarity cutoff.
	DedupThreshold float32 `yaml:"dedup_threshold"`

	// ArchivePath is the SQLite incident archive; empty disables it.
	ArchivePath string `yaml:"archive_path"`
}

// LLMConfig configures the generation/embedding provider.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible API root; empty disables
	// synthesis entirely.
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	ChatModel   string        `yaml:"chat_model"`
	EmbedModel  string        `yaml:"embed_model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SynthesisConfig configures rule drafting.
type SynthesisConfig struct {
	ClusterThreshold    float32 `yaml:"cluster_threshold"`
	MaxClusters         int     `yaml:"max_clusters"`
	MaxClusterIncidents int     `yaml:"max_cluster_incidents"`
	ExemplarLimit       int     `yaml:"exemplar_limit"`
}

// VerifyConfig configures the verification gate.
type VerifyConfig struct {
	// FPThreshold is the maximum tolerated false-positive rate.
	FPThreshold float64 `yaml:"fp_threshold"`

	// GoodCorpusPath is a YAML file of known-good requests replayed as
	// the held-out corpus.
	GoodCorpusPath string `yaml:"good_corpus_path"`
}

// LifecycleConfig configures the synthesis cycle cadence.
type LifecycleConfig struct {
	// Schedule is a cron expression; empty means on-demand only.
	Schedule string `yaml:"schedule"`

	// IncidentWindow is how far back a cycle samples.
	IncidentWindow time.Duration `yaml:"incident_window"`

	// CycleTimeout bounds one cycle.
	CycleTimeout time.Duration `yaml:"cycle_timeout"`
}
