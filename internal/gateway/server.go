package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aigw/internal/config"
	"aigw/internal/observability"
)

var tracer = otel.Tracer("aigw/gateway")

// requestIDHeader is the header the request id is read from and
// echoed back on.
const requestIDHeader = "X-Request-ID"

// Server is the client-facing HTTP surface of the gateway.
type Server struct {
	gateway   *Gateway
	cfg       config.ServerConfig
	logger    observability.Logger
	router    *gin.Engine
	server    *http.Server
	accessLog bool
}

// ServerOption is a functional option for configuring the server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAccessLog enables per-request access logging.
func WithAccessLog(enabled bool) ServerOption {
	return func(s *Server) {
		s.accessLog = enabled
	}
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(gateway *Gateway, cfg config.ServerConfig, opts ...ServerOption) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		gateway: gateway,
		cfg:     cfg,
		logger:  observability.NopLogger(),
		router:  router,
	}

	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(tracingMiddleware())

	for _, opt := range opts {
		opt(s)
	}

	if s.accessLog {
		router.Use(accessLogMiddleware(s.logger))
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
		IdleTimeout:  cfg.IdleTimeout.Duration(),
	}

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/v1")
	{
		v1.POST("/request", s.handleRequest)
		v1.POST("/:capability", s.handleCapability)
		v1.GET("/cache/stats", s.handleCacheStats)
		v1.GET("/breakers", s.handleBreakerStats)
	}
}

// handleRequest serves the full request envelope.
func (s *Server) handleRequest(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	s.serve(c, &req)
}

// handleCapability is the shorthand route: the capability comes from
// the path and the body is the raw payload.
func (s *Server) handleCapability(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	req := Request{
		Capability: c.Param("capability"),
		Payload:    payload,
	}
	s.serve(c, &req)
}

func (s *Server) serve(c *gin.Context, req *Request) {
	if req.ID == "" {
		req.ID = requestIDFrom(c)
	}

	resp := s.gateway.Handle(c.Request.Context(), req)
	c.JSON(statusCode(resp), resp)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	stats := s.gateway.CacheStats()
	if stats == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "tiers": stats})
}

func (s *Server) handleBreakerStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.gateway.BreakerStats())
}

// statusCode maps a gateway response to an HTTP status.
func statusCode(resp *Response) int {
	if resp.Status != StatusError {
		return http.StatusOK
	}
	if resp.Error == nil {
		return http.StatusInternalServerError
	}
	switch resp.Error.Kind {
	case "invalid_request":
		return http.StatusBadRequest
	case "deadline_exceeded":
		return http.StatusGatewayTimeout
	case "resource_exhausted":
		return http.StatusTooManyRequests
	case "service_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Start begins serving. It blocks until the listener fails or the
// server is shut down.
func (s *Server) Start() error {
	s.logger.Info("gateway server listening",
		observability.String("addr", s.server.Addr),
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requestIDMiddleware assigns every request an id, reusing the
// client's when present, and threads it through the context for logs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		ctx := observability.ContextWithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	if id := observability.RequestIDFromContext(c.Request.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

// tracingMiddleware opens a server span per request.
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		spanName := fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())
		ctx, span := tracer.Start(c.Request.Context(), spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetStatus(codes.Error, c.Errors.String())
		}
	}
}

// accessLogMiddleware emits one structured line per request.
func accessLogMiddleware(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("http request",
			observability.String("method", method),
			observability.String("path", path),
			observability.Int("status", c.Writer.Status()),
			observability.Duration("latency", time.Since(start)),
			observability.String("requestId", observability.RequestIDFromContext(c.Request.Context())),
			observability.String("clientIp", c.ClientIP()),
		)
	}
}
