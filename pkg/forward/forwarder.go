package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config contains forwarder configuration.
type Config struct {
	// Backend is the default upstream base URL.
	Backend string

	// UpstreamHeader optionally names a request header that overrides
	// the backend target per request. Overrides must be allowlisted.
	UpstreamHeader string

	// AllowedUpstreams is the allowlist of override base URLs.
	AllowedUpstreams []string

	// ConnectTimeout bounds dialing (and pool acquisition).
	// Default: 5s.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for response headers. Default: 30s.
	ReadTimeout time.Duration

	// TotalTimeout bounds the whole exchange. Default: 60s.
	TotalTimeout time.Duration

	// MaxBodyBytes caps forwarded request bodies. Bodies over the cap
	// fail before any connection is made. Default: 10 MiB.
	MaxBodyBytes int64

	// MaxInFlight bounds concurrent backend exchanges. Default: 128.
	MaxInFlight int
}

// DefaultConfig returns the default forwarder configuration.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
		TotalTimeout:   60 * time.Second,
		MaxBodyBytes:   10 << 20,
		MaxInFlight:    128,
	}
}

// Request is the forwarder's view of an allowed request.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	ClientIP string
}

// Response is the backend's reply, fully materialized.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder proxies requests to the backend with bounded concurrency.
type Forwarder struct {
	cfg       *Config
	client    *http.Client
	transport *http.Transport
	sem       chan struct{}
	logger    *slog.Logger

	mu       sync.Mutex
	hadOK    bool
	tainted  bool
	upstream map[string]bool
}

// New creates a forwarder for the configured backend.
func New(cfg *Config, logger *slog.Logger) (*Forwarder, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = def.TotalTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if _, err := url.Parse(cfg.Backend); err != nil || cfg.Backend == "" {
		return nil, errors.New("forward: backend URL is required")
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          cfg.MaxInFlight,
		MaxIdleConnsPerHost:   cfg.MaxInFlight,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	allow := make(map[string]bool, len(cfg.AllowedUpstreams))
	for _, u := range cfg.AllowedUpstreams {
		allow[strings.TrimSuffix(u, "/")] = true
	}

	return &Forwarder{
		cfg:       cfg,
		transport: transport,
		client: &http.Client{
			Transport: transport,
			// The proxy relays redirects to the client verbatim.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		sem:      make(chan struct{}, cfg.MaxInFlight),
		logger:   logger.With("component", "forward"),
		upstream: allow,
	}, nil
}

// Forward sends the request to the backend and returns its response.
//
// The body-size cap is enforced before dialing. Pool acquisition waits at
// most the connect timeout. A connect-phase failure is retried once for
// idempotent methods; read and total timeouts are terminal.
func (f *Forwarder) Forward(ctx context.Context, req *Request) (*Response, error) {
	if f.cfg.MaxBodyBytes > 0 && int64(len(req.Body)) > f.cfg.MaxBodyBytes {
		return nil, &BodyTooLargeError{Size: int64(len(req.Body)), Limit: f.cfg.MaxBodyBytes}
	}

	target, err := f.resolveTarget(req)
	if err != nil {
		return nil, err
	}

	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	resp, err := f.attempt(ctx, target, req)
	if err != nil && isConnectFailure(err) && isIdempotent(req.Method) {
		f.logger.Debug("retrying idempotent request after connect failure",
			"method", req.Method,
			"path", req.Path,
			"error", err,
		)
		resp, err = f.attempt(ctx, target, req)
	}
	if err != nil {
		f.noteError()
		return nil, classify(err)
	}

	f.noteSuccess()
	return resp, nil
}

// acquire takes a pool slot, waiting at most the connect timeout.
func (f *Forwarder) acquire(ctx context.Context) error {
	select {
	case f.sem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(f.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case f.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrPoolExhausted
	case <-ctx.Done():
		return &TimeoutError{Phase: PhaseTotal, Cause: ctx.Err()}
	}
}

func (f *Forwarder) release() { <-f.sem }

// resolveTarget picks the upstream base URL for the request.
func (f *Forwarder) resolveTarget(req *Request) (string, error) {
	target := f.cfg.Backend
	if f.cfg.UpstreamHeader != "" && req.Header != nil {
		if override := req.Header.Get(f.cfg.UpstreamHeader); override != "" {
			override = strings.TrimSuffix(override, "/")
			if !f.upstream[override] {
				return "", &UpstreamRejectedError{Target: override}
			}
			target = override
		}
	}
	return strings.TrimSuffix(target, "/"), nil
}

// attempt performs one backend exchange under the total timeout.
func (f *Forwarder) attempt(ctx context.Context, target string, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.TotalTimeout)
	defer cancel()

	u := target + req.Path
	if req.RawQuery != "" {
		u += "?" + req.RawQuery
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, &BackendError{Cause: err}
	}

	copyForwardHeaders(out.Header, req.Header, f.cfg.UpstreamHeader)
	appendXForwardedFor(out.Header, req.ClientIP)

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	header := resp.Header.Clone()
	stripHopByHop(header)
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       respBody,
	}, nil
}

// noteError marks the pool tainted; the first error after a success evicts
// idle connections so a broken keep-alive connection is never reused.
func (f *Forwarder) noteError() {
	f.mu.Lock()
	evict := f.hadOK && !f.tainted
	f.tainted = true
	f.mu.Unlock()

	if evict {
		f.logger.Debug("evicting idle backend connections after error")
		f.transport.CloseIdleConnections()
	}
}

func (f *Forwarder) noteSuccess() {
	f.mu.Lock()
	f.hadOK = true
	f.tainted = false
	f.mu.Unlock()
}

// isIdempotent reports whether the method is safe to retry after a
// connect-phase failure.
func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// isConnectFailure reports whether the error happened before any bytes of
// the request could have reached the backend.
func isConnectFailure(err error) bool {
	var op *net.OpError
	if errors.As(err, &op) {
		return op.Op == "dial"
	}
	return false
}

// classify maps transport errors onto the forwarder's error taxonomy.
func classify(err error) error {
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" {
		if op.Timeout() {
			return &TimeoutError{Phase: PhaseConnect, Cause: err}
		}
		return &BackendError{Cause: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Phase: PhaseTotal, Cause: err}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		// Non-dial timeout under the total deadline: waiting on response
		// headers (ResponseHeaderTimeout) or the body read.
		return &TimeoutError{Phase: PhaseRead, Cause: err}
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return te
	}
	return &BackendError{Cause: err}
}

// hopByHopHeaders never cross the proxy in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyForwardHeaders copies client headers onto the outbound request,
// dropping hop-by-hop headers and the upstream override header.
func copyForwardHeaders(dst, src http.Header, upstreamHeader string) {
	if src == nil {
		return
	}
	drop := make(map[string]bool, len(hopByHopHeaders)+1)
	for _, h := range hopByHopHeaders {
		drop[h] = true
	}
	for _, tok := range src.Values("Connection") {
		for _, name := range strings.Split(tok, ",") {
			drop[http.CanonicalHeaderKey(strings.TrimSpace(name))] = true
		}
	}
	if upstreamHeader != "" {
		drop[http.CanonicalHeaderKey(upstreamHeader)] = true
	}

	for name, values := range src {
		if drop[name] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// stripHopByHop removes hop-by-hop headers from a response header set.
func stripHopByHop(h http.Header) {
	for _, tok := range h.Values("Connection") {
		for _, name := range strings.Split(tok, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// appendXForwardedFor records the client address on the outbound request.
func appendXForwardedFor(h http.Header, clientIP string) {
	if clientIP == "" {
		return
	}
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		h.Set("X-Forwarded-For", clientIP)
	}
}
