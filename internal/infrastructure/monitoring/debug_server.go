package monitoring

import (
	"context"
	"net/http"
	"sync"
	"time"

	"peerchat/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// HealthCheck is one named readiness probe.
type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

// DebugOptions configures the local debug/metrics server.
type DebugOptions struct {
	Addr          string
	Calls         ports.CallService
	Conversations ports.ConversationService
	Metrics       prometheus.Gatherer
}

// DebugServer exposes health, state and metrics over a local HTTP port. It is
// an operator surface, not part of the chat protocol.
type DebugServer struct {
	opts   DebugOptions
	engine *gin.Engine
	server *http.Server
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	checks []HealthCheck
}

func NewDebugServer(opts DebugOptions, logger *zap.SugaredLogger) *DebugServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), tracingMiddleware())

	s := &DebugServer{
		opts:   opts,
		engine: engine,
		logger: logger,
	}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/state", s.handleState)
	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{})))
	}

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// AddCheck registers a readiness probe evaluated on every /healthz request.
func (s *DebugServer) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	s.mu.Lock()
	s.checks = append(s.checks, HealthCheck{Name: name, Check: check, Timeout: timeout})
	s.mu.Unlock()
}

// Handler exposes the route tree for tests.
func (s *DebugServer) Handler() http.Handler {
	return s.engine
}

func (s *DebugServer) Start() {
	go func() {
		s.logger.Infow("debug server listening", "addr", s.opts.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("debug server failed", "error", err)
		}
	}()
}

func (s *DebugServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *DebugServer) handleHealth(c *gin.Context) {
	s.mu.RLock()
	checks := append([]HealthCheck(nil), s.checks...)
	s.mu.RUnlock()

	status := "healthy"
	results := make(map[string]string, len(checks))
	code := http.StatusOK

	for _, check := range checks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), check.Timeout)
		err := check.Check(ctx)
		cancel()
		if err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			results[check.Name] = err.Error()
			continue
		}
		results[check.Name] = "healthy"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    results,
	})
}

func (s *DebugServer) handleState(c *gin.Context) {
	state := gin.H{}

	if s.opts.Calls != nil {
		if session, ok := s.opts.Calls.Snapshot(); ok {
			state["call"] = gin.H{
				"id":    session.CallID,
				"phase": session.Phase,
				"kind":  session.Metadata.Type,
				"peer":  session.PeerID,
			}
		}
	}

	if s.opts.Conversations != nil {
		state["conversations"] = len(s.opts.Conversations.Conversations())
		state["groups"] = len(s.opts.Conversations.Groups())
		state["contacts"] = len(s.opts.Conversations.Contacts())
		if profile, ok := s.opts.Conversations.ActiveProfile(); ok {
			state["active_profile"] = profile.ID
			state["messages"] = len(s.opts.Conversations.Messages())
		}
	}

	c.JSON(http.StatusOK, state)
}

func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := otel.Tracer("peerchat.debug").Start(c.Request.Context(), "http."+c.Request.Method)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
			attribute.String("http.remote_addr", c.ClientIP()),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
