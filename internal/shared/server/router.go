package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"label-decoder/internal/analyses"
	"label-decoder/internal/services/health"
	"label-decoder/internal/shared/config"
	"label-decoder/internal/shared/metrics"
	"label-decoder/internal/shared/server/middleware"
	"label-decoder/internal/shared/server/respond"
)

const (
	rateGroupSubmit = "SUBMIT"
	rateGroupRead   = "READ"
)

// RouterDeps carries the handlers the router mounts.
type RouterDeps struct {
	Config          config.Config
	AnalysisHandler *analyses.Handler
	Health          *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		report := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})

	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		api.Use(middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: rateGroupRead,
			GroupFor: func(c *gin.Context) string {
				if c.Request.Method == http.MethodPost {
					return rateGroupSubmit
				}
				return rateGroupRead
			},
			Rules: map[string]middleware.RateLimitRule{
				rateGroupSubmit: {Rate: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
				rateGroupRead:   {Rate: cfg.RateLimitRPS * 10, Burst: cfg.RateLimitBurst * 10},
			},
		}))
	}

	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
