// Package health implements the two probe kinds of spec.md §4.8: Command
// (shell exit 0 = healthy) and HTTP (2xx = healthy). Command runs through
// the teacher's internal/detector.CommandDetector; HTTP has no teacher
// equivalent and is built fresh on stdlib net/http, run through a bounded
// worker pool per spec.md §5 (parallelism cap 8).
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/systemg/systemg/internal/detector"
	"github.com/systemg/systemg/internal/procspec"
)

// Error is the ProbeError taxonomy kind (spec.md §7): timeout or non-2xx,
// feeding the prober's retry counter.
type Error struct {
	Service string
	Cause   error
}

func (e *Error) Error() string { return fmt.Sprintf("ProbeError(%s): %v", e.Service, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Probe is the narrow contract each kind implements.
type Probe interface {
	Check(ctx context.Context) error
	Describe() string
}

// NewProbe constructs the Probe for a descriptor's HealthCheck, or nil if
// none is configured (a service with no health check advances straight
// from Starting to Healthy on exec, per §3).
func NewProbe(hc *procspec.HealthCheck) (Probe, error) {
	if hc == nil {
		return nil, nil
	}
	switch hc.Kind {
	case procspec.ProbeCommand, "":
		return commandProbe{command: hc.Command}, nil
	case procspec.ProbeHTTP:
		return httpProbe{url: hc.URL, client: &http.Client{}}, nil
	default:
		return nil, fmt.Errorf("health: unknown probe kind %q", hc.Kind)
	}
}

// commandProbe runs a shell command; exit 0 means healthy. Delegates
// entirely to detector.CommandDetector, which already implements the
// shell-aware command building (direct exec unless shell metacharacters
// are present) this probe needs.
type commandProbe struct{ command string }

func (c commandProbe) Describe() string { return "cmd:" + c.command }

func (c commandProbe) Check(ctx context.Context) error {
	alive, err := (detector.CommandDetector{Command: c.command}).AliveContext(ctx)
	if err != nil {
		return err
	}
	if !alive {
		return fmt.Errorf("probe command exited non-zero")
	}
	return nil
}

// httpProbe GETs url; 2xx means healthy. No teacher equivalent exists; this
// is a fresh component per SPEC_FULL.md's gap analysis.
type httpProbe struct {
	url    string
	client *http.Client
}

func (h httpProbe) Describe() string { return "http:" + h.url }

func (h httpProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe http %s: status %d", h.url, resp.StatusCode)
	}
	return nil
}

// RunWithTimeout runs p.Check bounded by timeout, returning a *Error on
// failure wrapping the underlying cause.
func RunWithTimeout(service string, p Probe, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Check(ctx); err != nil {
		return &Error{Service: service, Cause: err}
	}
	return nil
}
