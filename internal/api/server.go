// internal/api/server.go
// HTTP API Server - 使用 Gin 框架
package api

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"crawldiag/internal/diagnostics"
	"crawldiag/internal/pkg/metrics"
	"crawldiag/internal/pkg/ratelimit"
	"crawldiag/internal/pkg/recordqueue"

	"github.com/gin-gonic/gin"
)

// RecordQueue 诊断记录队列（recordqueue.Client 实现）
type RecordQueue interface {
	PushRecord(ctx context.Context, rec *diagnostics.Record) error
	GetQueueStats(ctx context.Context) (*recordqueue.QueueStats, error)
}

// DebounceStats 可选的去重表统计
type DebounceStats interface {
	Len() int
}

// IngestLimiter 分类请求限流（ratelimit.Limiter 实现）
type IngestLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Deps 服务器依赖；为 nil 的字段使用默认实现或关闭对应功能
type Deps struct {
	Classifier *diagnostics.Classifier
	Sanitizer  *diagnostics.Sanitizer
	Resources  *diagnostics.ResourceClassifier
	Backoff    *diagnostics.BackoffCalculator
	Queue      RecordQueue
	Debounce   DebounceStats
	Limiter    IngestLimiter
}

// Server HTTP API 服务器
type Server struct {
	router     *gin.Engine
	classifier *diagnostics.Classifier
	sanitizer  *diagnostics.Sanitizer
	resources  *diagnostics.ResourceClassifier
	backoff    *diagnostics.BackoffCalculator
	queue      RecordQueue
	debounce   DebounceStats
	limiter    IngestLimiter
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// Config 服务器配置
type Config struct {
	Addr         string        // 监听地址 (如 ":8080")
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
	Debug        bool          // 调试模式
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Debug:        false,
	}
}

// NewServer 创建 API 服务器
func NewServer(deps Deps, logger *slog.Logger, cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(metricsMiddleware())

	s := &Server{
		router:     router,
		classifier: deps.Classifier,
		sanitizer:  deps.Sanitizer,
		resources:  deps.Resources,
		backoff:    deps.Backoff,
		queue:      deps.Queue,
		debounce:   deps.Debounce,
		limiter:    deps.Limiter,
		logger:     logger,
		startedAt:  time.Now(),
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	if s.classifier == nil {
		s.classifier = diagnostics.NewClassifier(diagnostics.ClassifierOptions{Logger: logger})
	}
	if s.sanitizer == nil {
		s.sanitizer = diagnostics.NewSanitizer(diagnostics.SanitizeOptions{})
	}
	if s.resources == nil {
		s.resources = diagnostics.NewResourceClassifier()
	}
	if s.backoff == nil {
		s.backoff = diagnostics.NewBackoffCalculator(diagnostics.DefaultBackoffBase, diagnostics.DefaultBackoffMax, nil)
	}

	s.setupRoutes()
	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		ingest := v1.Group("/classify", s.rateLimit())
		ingest.POST("", s.classify)
		ingest.POST("/stage", s.classifyStage)
		v1.POST("/sanitize", s.sanitize)
		v1.POST("/resources/check", s.checkResource)
		v1.GET("/backoff", s.computeBackoff)
		v1.GET("/system/status", s.getSystemStatus)
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("starting API server", slog.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router 获取路由器（用于测试）
func (s *Server) Router() *gin.Engine {
	return s.router
}

// requestLogger 请求日志中间件
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
		)
	}
}

// metricsMiddleware 以路由模板为 path 标签，避免高基数
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// rateLimit 按客户端 IP 限流；限流器出错时放行
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		d, err := s.limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			metrics.IngestRateLimitErrorsTotal.Inc()
			s.logger.Warn("rate limiter unavailable, allowing request", slog.String("error", err.Error()))
			c.Next()
			return
		}
		if !d.Allowed {
			metrics.IngestRateLimitedTotal.Inc()
			secs := int64(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.FormatInt(secs, 10))
			errorResponse(c, http.StatusTooManyRequests, 429, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// ============================================================================
// Response 工具函数
// ============================================================================

// Response 统一响应格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// success 成功响应
func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// errorResponse 错误响应
func errorResponse(c *gin.Context, status int, code int, message string) {
	c.JSON(status, Response{
		Code:    code,
		Message: message,
	})
}

// badRequest 400 错误
func badRequest(c *gin.Context, message string) {
	errorResponse(c, http.StatusBadRequest, 400, message)
}

// internalError 500 错误
func internalError(c *gin.Context, message string) {
	errorResponse(c, http.StatusInternalServerError, 500, message)
}
