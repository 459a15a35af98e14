package pipeline

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"warden-hq/warden/pkg/rule"
)

// OverCapPolicy decides what happens when a body exceeds the inspection
// cap.
type OverCapPolicy string

const (
	// PolicyInspectPrefix matches rules against the capped prefix and
	// forwards the full body.
	PolicyInspectPrefix OverCapPolicy = "inspect-prefix"

	// PolicyReject denies over-cap bodies outright.
	PolicyReject OverCapPolicy = "reject"
)

// CapturedRequest is the immutable snapshot the rest of the pipeline
// works from. The client's body has been fully consumed into it.
type CapturedRequest struct {
	ID         string
	Method     string
	Path       string
	RawQuery   string
	Header     http.Header
	Body       []byte
	Truncated  bool
	ClientIP   string
	ReceivedAt time.Time
}

// capture snapshots the incoming request. The body is read up to the
// hard limit; the inspection cap is applied according to the over-cap
// policy.
func capture(r *http.Request, maxBody int64, inspectLimit int64, policy OverCapPolicy) (*CapturedRequest, error) {
	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, &ParseError{Reason: "body read failed", Cause: err}
	}
	if int64(len(body)) > maxBody {
		return nil, &ParseError{Reason: "body exceeds hard limit"}
	}

	truncated := false
	if inspectLimit > 0 && int64(len(body)) > inspectLimit {
		if policy == PolicyReject {
			return nil, &ParseError{Reason: "body exceeds inspection cap"}
		}
		truncated = true
	}

	return &CapturedRequest{
		ID:         id,
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header.Clone(),
		Body:       body,
		Truncated:  truncated,
		ClientIP:   clientIP(r),
		ReceivedAt: time.Now(),
	}, nil
}

// Input assembles the matcher's view. The body is capped at the
// inspection limit; the full body still reaches the backend.
func (c *CapturedRequest) Input(inspectLimit int64) *rule.Input {
	body := c.Body
	if inspectLimit > 0 && int64(len(body)) > inspectLimit {
		body = body[:inspectLimit]
	}
	return &rule.Input{
		Method:   c.Method,
		Path:     c.Path,
		RawQuery: c.RawQuery,
		Header:   c.Header,
		Body:     body,
		ClientIP: c.ClientIP,
	}
}

// clientIP strips the port from the peer address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
