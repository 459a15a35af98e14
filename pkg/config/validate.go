package config

import (
	"fmt"
	"net/url"
)

// ValidationError names the failing field.
type ValidationError struct {
	// Field is the dotted YAML path.
	Field string

	// Reason explains the failure.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks the configuration after defaults and overrides.
func Validate(cfg *Config) error {
	if cfg.Backend.Target == "" {
		return &ValidationError{Field: "backend.target", Reason: "backend target URL is required"}
	}
	if u, err := url.Parse(cfg.Backend.Target); err != nil || u.Scheme == "" || u.Host == "" {
		return &ValidationError{Field: "backend.target", Reason: "must be an absolute URL"}
	}
	for i, upstream := range cfg.Backend.AllowedUpstreams {
		if u, err := url.Parse(upstream); err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{
				Field:  fmt.Sprintf("backend.allowed_upstreams[%d]", i),
				Reason: "must be an absolute URL",
			}
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{Field: "logging.level", Reason: "must be debug, info, warn or error"}
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return &ValidationError{Field: "logging.format", Reason: "must be text or json"}
	}

	switch cfg.Pipeline.OverCapPolicy {
	case "inspect-prefix", "reject":
	default:
		return &ValidationError{Field: "pipeline.over_cap_policy", Reason: "must be inspect-prefix or reject"}
	}
	if cfg.Pipeline.InspectLimit > cfg.Backend.MaxBodyBytes {
		return &ValidationError{
			Field:  "pipeline.inspect_limit",
			Reason: "must not exceed backend.max_body_bytes",
		}
	}

	if cfg.Sampler.DedupThreshold > 1 {
		return &ValidationError{Field: "sampler.dedup_threshold", Reason: "must be at most 1"}
	}
	if cfg.Verify.FPThreshold >= 1 {
		return &ValidationError{Field: "verify.fp_threshold", Reason: "must be below 1"}
	}
	return nil
}
