package config

import "time"

// DefaultConfig returns a fully populated default configuration. The
// backend target is the only field with no usable default.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Backend: BackendConfig{
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    30 * time.Second,
			TotalTimeout:   60 * time.Second,
			MaxBodyBytes:   10 << 20,
			MaxInFlight:    128,
		},
		Pipeline: PipelineConfig{
			InspectLimit:  64 << 10,
			OverCapPolicy: "inspect-prefix",
			RuleBudget:    5 * time.Millisecond,
			BlockTTL:      time.Hour,
		},
		Rules: RulesConfig{
			StorePath:    "warden-rules.db",
			HistoryLimit: 16,
		},
		Sampler: SamplerConfig{
			WindowSize:     512,
			WindowAge:      24 * time.Hour,
			QueueSize:      256,
			DedupThreshold: 0.97,
		},
		LLM: LLMConfig{
			ChatModel:   "gpt-4o-mini",
			EmbedModel:  "text-embedding-3-small",
			Temperature: 0.1,
			Timeout:     60 * time.Second,
		},
		Synthesis: SynthesisConfig{
			ClusterThreshold:    0.85,
			MaxClusters:         8,
			MaxClusterIncidents: 5,
			ExemplarLimit:       3,
		},
		Verify: VerifyConfig{
			FPThreshold: 0.01,
		},
		Lifecycle: LifecycleConfig{
			IncidentWindow: time.Hour,
			CycleTimeout:   5 * time.Minute,
		},
	}
}

// applyDefaults fills zero-valued fields from DefaultConfig.
func applyDefaults(cfg *Config) {
	def := DefaultConfig()

	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = def.Server.ListenAddress
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = def.Server.IdleTimeout
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}

	if cfg.Backend.ConnectTimeout <= 0 {
		cfg.Backend.ConnectTimeout = def.Backend.ConnectTimeout
	}
	if cfg.Backend.ReadTimeout <= 0 {
		cfg.Backend.ReadTimeout = def.Backend.ReadTimeout
	}
	if cfg.Backend.TotalTimeout <= 0 {
		cfg.Backend.TotalTimeout = def.Backend.TotalTimeout
	}
	if cfg.Backend.MaxBodyBytes <= 0 {
		cfg.Backend.MaxBodyBytes = def.Backend.MaxBodyBytes
	}
	if cfg.Backend.MaxInFlight <= 0 {
		cfg.Backend.MaxInFlight = def.Backend.MaxInFlight
	}

	if cfg.Pipeline.InspectLimit <= 0 {
		cfg.Pipeline.InspectLimit = def.Pipeline.InspectLimit
	}
	if cfg.Pipeline.OverCapPolicy == "" {
		cfg.Pipeline.OverCapPolicy = def.Pipeline.OverCapPolicy
	}
	if cfg.Pipeline.RuleBudget <= 0 {
		cfg.Pipeline.RuleBudget = def.Pipeline.RuleBudget
	}
	if cfg.Pipeline.BlockTTL <= 0 {
		cfg.Pipeline.BlockTTL = def.Pipeline.BlockTTL
	}

	if cfg.Rules.StorePath == "" {
		cfg.Rules.StorePath = def.Rules.StorePath
	}
	if cfg.Rules.HistoryLimit <= 0 {
		cfg.Rules.HistoryLimit = def.Rules.HistoryLimit
	}

	if cfg.Sampler.WindowSize <= 0 {
		cfg.Sampler.WindowSize = def.Sampler.WindowSize
	}
	if cfg.Sampler.WindowAge <= 0 {
		cfg.Sampler.WindowAge = def.Sampler.WindowAge
	}
	if cfg.Sampler.QueueSize <= 0 {
		cfg.Sampler.QueueSize = def.Sampler.QueueSize
	}
	if cfg.Sampler.DedupThreshold <= 0 {
		cfg.Sampler.DedupThreshold = def.Sampler.DedupThreshold
	}

	if cfg.LLM.ChatModel == "" {
		cfg.LLM.ChatModel = def.LLM.ChatModel
	}
	if cfg.LLM.EmbedModel == "" {
		cfg.LLM.EmbedModel = def.LLM.EmbedModel
	}
	if cfg.LLM.Temperature <= 0 {
		cfg.LLM.Temperature = def.LLM.Temperature
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = def.LLM.Timeout
	}

	if cfg.Synthesis.ClusterThreshold <= 0 {
		cfg.Synthesis.ClusterThreshold = def.Synthesis.ClusterThreshold
	}
	if cfg.Synthesis.MaxClusters <= 0 {
		cfg.Synthesis.MaxClusters = def.Synthesis.MaxClusters
	}
	if cfg.Synthesis.MaxClusterIncidents <= 0 {
		cfg.Synthesis.MaxClusterIncidents = def.Synthesis.MaxClusterIncidents
	}
	if cfg.Synthesis.ExemplarLimit <= 0 {
		cfg.Synthesis.ExemplarLimit = def.Synthesis.ExemplarLimit
	}

	if cfg.Verify.FPThreshold <= 0 {
		cfg.Verify.FPThreshold = def.Verify.FPThreshold
	}

	if cfg.Lifecycle.IncidentWindow <= 0 {
		cfg.Lifecycle.IncidentWindow = def.Lifecycle.IncidentWindow
	}
	if cfg.Lifecycle.CycleTimeout <= 0 {
		cfg.Lifecycle.CycleTimeout = def.Lifecycle.CycleTimeout
	}
}
