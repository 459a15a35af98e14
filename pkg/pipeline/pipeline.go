// Package pipeline is the enforcement path: every client request is
// captured, checked against the blocklist and the live rule generation,
// then forwarded or denied.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"warden-hq/warden/pkg/blocklist"
	"warden-hq/warden/pkg/engine"
	"warden-hq/warden/pkg/forward"
	"warden-hq/warden/pkg/rule"
	"warden-hq/warden/pkg/sampler"
	"warden-hq/warden/pkg/telemetry/metrics"
)

// Config contains pipeline configuration.
type Config struct {
	// MaxBodyBytes is the hard request-body limit; larger bodies are
	// denied with 400. Default: 10 MiB.
	MaxBodyBytes int64

	// InspectLimit caps the body bytes shown to the matcher.
	// Default: 64 KiB.
	InspectLimit int64

	// OverCapPolicy decides over-inspection-cap bodies.
	// Default: inspect-prefix.
	OverCapPolicy OverCapPolicy

	// BlockTTL is how long a block-ip deny keeps the client
	// blocklisted. Default: 1h.
	BlockTTL time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxBodyBytes:  10 << 20,
		InspectLimit:  64 << 10,
		OverCapPolicy: PolicyInspectPrefix,
		BlockTTL:      time.Hour,
	}
}

// Forwarder is the backend exchange the pipeline performs for allowed
// requests.
type Forwarder interface {
	Forward(ctx context.Context, req *forward.Request) (*forward.Response, error)
}

// RuleSource supplies the live rule generation.
type RuleSource interface {
	Current() *rule.RuleSet
}

// Sink receives incident observations without ever blocking.
type Sink interface {
	Offer(obs sampler.Observation) bool
}

// Handler is the enforcement http.Handler.
type Handler struct {
	cfg       *Config
	rules     RuleSource
	engine    *engine.Engine
	forwarder Forwarder
	blocked   blocklist.Checker
	sink      Sink
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewHandler wires the enforcement pipeline. blocked, sink and collector
// may be nil.
func NewHandler(cfg *Config, rules RuleSource, eng *engine.Engine, fwd Forwarder, blocked blocklist.Checker, sink Sink, collector *metrics.Collector, logger *slog.Logger) *Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.InspectLimit <= 0 {
		cfg.InspectLimit = def.InspectLimit
	}
	if cfg.OverCapPolicy == "" {
		cfg.OverCapPolicy = def.OverCapPolicy
	}
	if cfg.BlockTTL <= 0 {
		cfg.BlockTTL = def.BlockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:       cfg,
		rules:     rules,
		engine:    eng,
		forwarder: fwd,
		blocked:   blocked,
		sink:      sink,
		collector: collector,
		logger:    logger.With("component", "pipeline"),
	}
}

// ServeHTTP runs one request through capture, blocklist, match and
// forward/deny, then audits and samples it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	captured, err := capture(r, h.cfg.MaxBodyBytes, h.cfg.InspectLimit, h.cfg.OverCapPolicy)
	if err != nil {
		h.logger.Warn("request rejected at capture",
			"client_ip", clientIP(r),
			"error", err,
		)
		h.writeDeny(w, "", http.StatusBadRequest, "")
		h.count("deny", start)
		return
	}

	ctx := r.Context()

	if h.blocked != nil {
		onList, err := h.blocked.Contains(ctx, captured.ClientIP)
		if err != nil {
			// Fail open: a blocklist outage must not take traffic down.
			h.logger.Error("blocklist check failed", "error", err)
		} else if onList {
			h.writeDeny(w, "", http.StatusForbidden, captured.ID)
			h.audit(captured, "deny-blocklist", http.StatusForbidden, start)
			h.count("deny", start)
			return
		}
	}

	rs := h.rules.Current()
	verdict := h.engine.Evaluate(ctx, captured.Input(h.cfg.InspectLimit), rs)

	if !verdict.Allowed {
		if verdict.BlockIP && h.blocked != nil && captured.ClientIP != "" {
			if err := h.blocked.Block(ctx, captured.ClientIP, h.cfg.BlockTTL); err != nil {
				h.logger.Error("blocklist update failed", "client_ip", captured.ClientIP, "error", err)
			}
		}
		h.writeDeny(w, verdict.RuleID, verdict.StatusCode, captured.ID)
		h.audit(captured, "deny", verdict.StatusCode, start)
		h.count("deny", start)
		if h.collector != nil {
			h.collector.DeniedByRule.WithLabelValues(verdict.RuleID).Inc()
		}
		h.sample(captured, verdict.RuleID, sampler.LabelBlocked)
		return
	}

	// Sample before the backend exchange: a forward failure must not
	// lose the anomaly observation. Offer never blocks.
	if verdict.Suspicious() {
		h.sample(captured, "", sampler.LabelSuspicious)
	}

	resp, err := h.forwarder.Forward(ctx, &forward.Request{
		Method:   captured.Method,
		Path:     captured.Path,
		RawQuery: captured.RawQuery,
		Header:   captured.Header,
		Body:     captured.Body,
		ClientIP: captured.ClientIP,
	})
	if err != nil {
		h.logger.Error("backend exchange failed",
			"request_id", captured.ID,
			"method", captured.Method,
			"path", captured.Path,
			"error", err,
		)
		if h.collector != nil {
			h.collector.ForwardErrors.WithLabelValues(errorKind(err)).Inc()
		}
		h.writeBadGateway(w, captured.ID)
		h.audit(captured, "error", http.StatusBadGateway, start)
		h.count("error", start)
		return
	}

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)

	h.audit(captured, "allow", resp.StatusCode, start)
	h.count("allow", start)
}

// writeDeny emits the constant-shape deny response. Nothing from the
// request is echoed back.
func (h *Handler) writeDeny(w http.ResponseWriter, ruleID string, status int, requestID string) {
	if status == 0 {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Warden-Blocked", "true")
	if ruleID != "" {
		w.Header().Set("X-Warden-Rule-Id", ruleID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"blocked":    true,
		"rule_id":    ruleID,
		"request_id": requestID,
	})
}

// writeBadGateway maps any upstream failure to one generic reply.
func (h *Handler) writeBadGateway(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(map[string]any{
		"error":      "bad gateway",
		"request_id": requestID,
	})
}

// sample hands an observation to the sampler, never blocking.
func (h *Handler) sample(c *CapturedRequest, ruleID string, label sampler.Label) {
	if h.sink == nil {
		return
	}
	body := c.Body
	if int64(len(body)) > h.cfg.InspectLimit {
		body = body[:h.cfg.InspectLimit]
	}
	h.sink.Offer(sampler.Observation{
		RequestID:  c.ID,
		Method:     c.Method,
		Path:       c.Path,
		RawQuery:   c.RawQuery,
		Header:     c.Header,
		BodyPrefix: body,
		ClientIP:   c.ClientIP,
		RuleID:     ruleID,
		Label:      label,
		ObservedAt: c.ReceivedAt,
	})
}

func (h *Handler) audit(c *CapturedRequest, outcome string, status int, start time.Time) {
	h.logger.Info("request",
		"request_id", c.ID,
		"method", c.Method,
		"path", c.Path,
		"client_ip", c.ClientIP,
		"outcome", outcome,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (h *Handler) count(verdict string, start time.Time) {
	if h.collector == nil {
		return
	}
	h.collector.RequestsTotal.WithLabelValues(verdict).Inc()
	h.collector.RequestDuration.WithLabelValues(verdict).Observe(time.Since(start).Seconds())
}

// errorKind names a forwarder failure for metrics.
func errorKind(err error) string {
	switch {
	case forward.IsTimeout(err):
		return "timeout"
	case forward.IsPoolExhausted(err):
		return "pool_exhausted"
	case forward.IsBodyTooLarge(err):
		return "body_too_large"
	default:
		return "backend"
	}
}
