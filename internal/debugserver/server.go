// Package debugserver exposes a read-only, localhost-only HTTP surface for
// service status and Prometheus metrics, separate from the authoritative
// control plane in internal/control (spec.md §4.10 Non-goal: "A public
// HTTP/gRPC management API" — this is neither public nor mutating, just an
// operability convenience gated by config). Grounded on the teacher's
// internal/server/router.go for gin wiring and its isSafeName validation.
package debugserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/systemg/systemg/internal/metrics"
	"github.com/systemg/systemg/internal/svcstate"
)

// StatusProvider is the read-only view the supervisor exposes; debugserver
// never calls back into it to mutate anything.
type StatusProvider interface {
	AllStatus() map[string]svcstate.Record
	Status(name string) (svcstate.Record, bool)
	Sample(name string) (metrics.Sample, bool)
}

// Server is the localhost-only debug/metrics HTTP surface.
type Server struct {
	httpServer *http.Server
}

// New builds the gin handler bound to listen (expected to be a
// 127.0.0.1/loopback address — callers enforce that at config-load time,
// §6's debug_server.listen field).
func New(listen string, provider StatusProvider) *Server {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/status", handleStatusAll(provider))
	g.GET("/status/:name", handleStatusOne(provider))
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	return &Server{
		httpServer: &http.Server{
			Addr:              listen,
			Handler:           g,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start runs ListenAndServe in a goroutine; errors other than a graceful
// Shutdown are sent to errc.
func (s *Server) Start(errc chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type errorResp struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}

func handleStatusAll(p StatusProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeJSON(c, http.StatusOK, p.AllStatus())
	}
}

func handleStatusOne(p StatusProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if !isSafeName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-]"})
			return
		}
		rec, ok := p.Status(name)
		if !ok {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "service not found"})
			return
		}
		resp := map[string]any{"status": rec}
		if sample, ok := p.Sample(name); ok {
			resp["sample"] = sample
		}
		writeJSON(c, http.StatusOK, resp)
	}
}

// isSafeName validates a path segment to avoid traversal when later used
// in filenames.
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return !strings.ContainsAny(s, "/\\")
}

// IsLoopback reports whether addr's host portion is a loopback address,
// enforced at config-load time so the debug server can never be bound to
// a routable interface by accident. An empty host (":9090") binds every
// interface and is not loopback.
func IsLoopback(addr string) bool {
	host := addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		host = addr[:idx]
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	return host == "127.0.0.1" || host == "::1"
}
