package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/queue-api/internal/handler"
	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine  *gin.Engine
	queueH  Handler
	h       *handler.Handler
	metrics *metrics.HTTP
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	RequestTimeout   time.Duration
	// Metrics may be nil to skip request instrumentation.
	Metrics *metrics.HTTP
}

func NewRouter(queueH Handler, h *handler.Handler, config RouterConfig) *Router {
	middleware.RegisterValidators()

	engine := gin.New() // Use New() instead of Default() for more control

	r := &Router{
		engine:  engine,
		queueH:  queueH,
		h:       h,
		metrics: config.Metrics,
	}

	// Add core middlewares
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		r.metricsMiddleware(),
		middleware.Compress(middleware.DefaultCompressConfig()),
		middleware.ErrorHandler(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
	)

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	engine.Use(
		middleware.SizeLimit(middleware.DefaultSizeLimitConfig()),
		middleware.Timeout(middleware.TimeoutConfig{
			Duration:  config.RequestTimeout,
			SkipPaths: []string{"/queue/events"},
		}),
	)

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")
	api.Use(middleware.Version(middleware.DefaultVersionConfig()))

	r.h.RegisterRoutes(api)

	queue := api.Group("")
	queue.Use(middleware.Cache(middleware.DefaultCacheConfig()))
	r.queueH.RegisterRoutes(queue)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.metrics == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.RequestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		if c.Writer.Status() >= 400 {
			errType := "client"
			if c.Writer.Status() >= 500 {
				errType = "server"
			}
			r.metrics.ErrorTotal.WithLabelValues(c.Request.Method, path, errType).Inc()
		}
	}
}
