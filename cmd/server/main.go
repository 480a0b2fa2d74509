// Command pipeline is the SafeHorizon tourist-safety service entry point.
// It wires the Geofence Index, Scoring Engine, Alert Generator, Location
// Ingestor, Broadcast Dispatcher, E-FIR Issuer, Subscription Gateway, and
// the HTTP surface over a single TimescaleDB-backed repository and a
// Redis-relayed Hub, then serves gin over HTTP with graceful shutdown.
//
// Grounded on the teacher's cmd/server/main.go staged-initialization shape
// (logger -> config -> dependencies -> router -> signal-driven shutdown),
// generalized from MQTT/TimescaleDB dog-walk wiring to SafeHorizon's
// repository/hub/gateway/dispatcher stack.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/safehorizon/pipeline/internal/alerts"
	"github.com/safehorizon/pipeline/internal/auth"
	"github.com/safehorizon/pipeline/internal/broadcastsvc"
	"github.com/safehorizon/pipeline/internal/config"
	"github.com/safehorizon/pipeline/internal/efir"
	"github.com/safehorizon/pipeline/internal/gateway"
	"github.com/safehorizon/pipeline/internal/geofence"
	"github.com/safehorizon/pipeline/internal/handlers"
	"github.com/safehorizon/pipeline/internal/httpx"
	"github.com/safehorizon/pipeline/internal/hub"
	"github.com/safehorizon/pipeline/internal/ingest"
	"github.com/safehorizon/pipeline/internal/models"
	"github.com/safehorizon/pipeline/internal/notifier"
	"github.com/safehorizon/pipeline/internal/repository"
)

const defaultGracefulTimeout = 30 * time.Second

// requestMetrics holds the custom Prometheus collectors layered on top of
// the default Go collector (spec §1 "structured logs and a Prometheus
// metrics endpoint").
type requestMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newRequestMetrics(registry *prometheus.Registry) *requestMetrics {
	m := &requestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safehorizon_http_requests_total",
			Help: "Total HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safehorizon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	registry.MustRegister(m.requests, m.latency, prometheus.NewGoCollector())
	return m
}

// middleware records both collectors for every request; mounted ahead of
// CorrelationMiddleware so it also times aborted requests.
func (m *requestMetrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := fmt.Sprintf("%d", c.Writer.Status())
		m.requests.WithLabelValues(c.Request.Method, path, status).Inc()
		m.latency.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// buildRateLimitMiddleware constructs a token-bucket limiter shared across
// every caller, mirroring the teacher's golang.org/x/time/rate wiring but
// driven by the aggregated ServiceConfig instead of a single parsed string.
func buildRateLimitMiddleware(perSecond float64, burst int, logger *zap.Logger) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			logger.Warn("rate limit exceeded", zap.String("path", c.Request.URL.Path), zap.String("ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting SafeHorizon pipeline service")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := repository.New(ctx, repository.DefaultConfig(cfg.Database.URL), logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure database schema", zap.Error(err))
	}

	h := hub.New(logger)
	instanceID := uuid.NewString()
	broker := hub.NewRedisBroker(cfg.Broker.URL, instanceID, h, logger)
	h.SetBroker(broker)
	go func() {
		if err := broker.Run(ctx); err != nil {
			logger.Warn("redis broker loop exited", zap.Error(err))
		}
	}()

	geofenceIdx := geofence.New(repo, logger, cfg.Service.ScoreRefreshInterval)
	if err := geofenceIdx.Refresh(ctx); err != nil {
		logger.Warn("initial geofence snapshot refresh failed, starting with an empty snapshot", zap.Error(err))
	}
	geofenceIdx.Start(ctx)

	generator := alerts.New(repo, h, logger)
	ingestor := ingest.New(repo, geofenceIdx, generator, logger)
	efirIssuer := efir.New(repo)

	notif := notifier.NewRetrying(notifier.NewLoggingStub(logger), logger)
	dispatcher := broadcastsvc.New(repo, h, geofenceIdx, notif, logger)

	jwtAuth := auth.New(cfg.Auth.Secret, time.Duration(cfg.Auth.ExpiryMins)*time.Minute)
	gw := gateway.New(h, jwtAuth, repo, cfg.Service.AllowedOrigins, logger)

	locationHandler := handlers.NewLocationHandler(ingestor, generator, geofenceIdx, repo, logger)
	broadcastHandler := handlers.NewBroadcastHandler(dispatcher, logger)
	efirHandler := handlers.NewEFIRHandler(efirIssuer, repo, logger)
	zoneHandler := handlers.NewZoneHandler(repo, logger)
	deviceHandler := handlers.NewDeviceHandler(repo, logger)
	publicHandler := handlers.NewPublicHandler(repo, logger)

	registry := prometheus.NewRegistry()
	metrics := newRequestMetrics(registry)

	router := setupRouter(routerDeps{
		logger:    logger,
		registry:  registry,
		metrics:   metrics,
		jwt:       jwtAuth,
		rateLimit: cfg.Service,
		location:  locationHandler,
		broadcast: broadcastHandler,
		efir:      efirHandler,
		zone:      zoneHandler,
		device:    deviceHandler,
		public:    publicHandler,
		gateway:   gw,
	})

	addr := fmt.Sprintf(":%d", cfg.Service.HTTPPort)
	server := &http.Server{Addr: addr, Handler: router}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("http server listening", zap.String("address", addr))
		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			logger.Fatal("http server listen error", zap.Error(srvErr))
		}
	}()

	sig := <-quit
	logger.Info("caught signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	geofenceIdx.Stop()
	cancel() // stops the broker's Run loop
	if err := broker.Close(); err != nil {
		logger.Warn("failed to close redis broker client", zap.Error(err))
	}
	repo.Close()

	logger.Info("graceful shutdown complete")
}

type routerDeps struct {
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *requestMetrics
	jwt       *auth.JWT
	rateLimit config.ServiceConfig

	location  *handlers.LocationHandler
	broadcast *handlers.BroadcastHandler
	efir      *handlers.EFIRHandler
	zone      *handlers.ZoneHandler
	device    *handlers.DeviceHandler
	public    *handlers.PublicHandler
	gateway   *gateway.Gateway
}

// setupRouter assembles the gin engine: ambient middleware first, then
// unauthenticated routes, then the JWT-gated API surface grouped by role
// (spec §6.1/§6.2).
func setupRouter(d routerDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(d.metrics.middleware())
	router.Use(httpx.CorrelationMiddleware(d.logger))
	router.Use(buildRateLimitMiddleware(d.rateLimit.RateLimitPerSecond, d.rateLimit.RateLimitBurst, d.logger))

	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "healthy"}) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))
	router.GET("/docs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "SafeHorizon pipeline API"})
	})

	router.GET("/api/public/panic-alerts", d.public.HandlePanicAlerts)

	router.GET("/ws/authority", gin.WrapF(d.gateway.ServeAuthority))
	router.GET("/ws/tourist/:id", func(c *gin.Context) { d.gateway.ServeTourist(c.Param("id"))(c.Writer, c.Request) })

	api := router.Group("/api")
	api.Use(httpx.JWTMiddleware(d.jwt))

	tourist := api.Group("")
	tourist.Use(httpx.RequireRole(models.RoleTourist))
	tourist.POST("/location/update", d.location.HandleLocationUpdate)
	tourist.GET("/location/nearby-risks", d.location.HandleNearbyRisks)
	tourist.POST("/sos/trigger", d.location.HandleSOSTrigger)
	tourist.POST("/broadcast/ack", d.broadcast.HandleAcknowledge)
	tourist.POST("/devices/register", d.device.HandleRegister)

	authority := api.Group("")
	authority.Use(httpx.RequireRole(models.RoleAuthority))
	authority.POST("/zones", d.zone.HandleCreate)
	authority.POST("/broadcast/radius", d.broadcast.HandleRadius)
	authority.POST("/broadcast/zone", d.broadcast.HandleZone)
	authority.POST("/broadcast/region", d.broadcast.HandleRegion)
	authority.POST("/broadcast/all", d.broadcast.HandleAll)

	// E-FIR generation is callable by either role; HandleGenerate itself
	// branches on claims.Role (spec §4.8 "filed by either a tourist or an
	// authority").
	efirGroup := api.Group("")
	efirGroup.Use(httpx.RequireRole(models.RoleTourist, models.RoleAuthority))
	efirGroup.POST("/efir/generate", d.efir.HandleGenerate)
	efirGroup.GET("/efir/verify/:tx_id", d.efir.HandleVerify)

	return router
}
