package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"locker-status-backend/internal/mw"
)

// RouterConfig holds the middleware settings of the router.
type RouterConfig struct {
	RateLimitPerSec float64
	RateLimitBurst  int
	// Cache serves repeated board reads; flush it whenever the mirror changes.
	Cache         *mw.ResponseCache
	JWTSecret     string
	MutationRoles []string
	Gatherer      prometheus.Gatherer
	Log           *zap.Logger
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	r.Use(gin.Recovery(), mw.RequestLogger(log))

	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	if cfg.Cache == nil {
		cfg.Cache = mw.NewResponseCache(2 * time.Second)
	}
	caching := cfg.Cache.Middleware()
	mutation := []gin.HandlerFunc{
		mw.RequireAuth(cfg.JWTSecret),
		mw.RequireRole(cfg.JWTSecret, cfg.MutationRoles...),
	}
	withRole := func(hf gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, mutation...), hf)
	}

	r.GET("/healthz", h.Health)
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		lockers := api.Group("/lockers", h.requireReady)
		lockers.GET("", caching, h.ListLockers)
		lockers.GET("/board", caching, h.GetBoard)
		lockers.GET("/count", h.CountLockers)
		lockers.GET("/events", h.StreamEvents)
		lockers.GET("/export.xlsx", h.ExportLockers)
		lockers.GET("/:id", h.GetLocker)
		lockers.POST("", withRole(h.CreateLockers)...)

		// Refresh is what recovers a mirror that failed to load.
		api.POST("/lockers/refresh", withRole(h.RefreshLockers)...)

		views := api.Group("/views", h.requireReady)
		views.POST("", h.CreateView)
		views.GET("/:id", h.GetView)
		views.DELETE("/:id", h.DeleteView)
		views.PUT("/:id/filter", h.SetFilter)
		views.POST("/:id/select", h.Select)
		views.DELETE("/:id/selection", h.Deselect)
		views.GET("/:id/detail", h.GetDetail)
		views.POST("/:id/save", withRole(h.Save)...)
		views.POST("/:id/release", withRole(h.Release)...)
		views.POST("/:id/status", withRole(h.ChangeStatus)...)

		api.POST("/evidence", withRole(h.UploadEvidence)...)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
