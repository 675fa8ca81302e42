package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/michalprusek/spheroseg-sub008/api/handlers"
	"github.com/michalprusek/spheroseg-sub008/api/middleware"
	"github.com/michalprusek/spheroseg-sub008/api/websocket"
	"github.com/michalprusek/spheroseg-sub008/internal/autoscaler"
	"github.com/michalprusek/spheroseg-sub008/internal/metrics"
	"github.com/michalprusek/spheroseg-sub008/internal/store"
	"github.com/michalprusek/spheroseg-sub008/pkg/config"
	"github.com/michalprusek/spheroseg-sub008/pkg/database"
)

// Deps carries the services the API exposes. DB is optional and only
// feeds the health check; everything else is required.
type Deps struct {
	Store   *store.Store
	DB      *database.DB
	Metrics *metrics.Service
	Scaler  *autoscaler.AutoScaler
}

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     config.APIConfig
	deps       Deps
	wsHub      *websocket.Hub
	wsBridge   *websocket.StreamBridge
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.App.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	wsHub := websocket.NewHub(&cfg.WebSocket)

	s := &Server{
		router: router,
		config: cfg.API,
		deps:   deps,
		wsHub:  wsHub,
	}

	s.setupMiddleware()
	s.setupRoutes()

	go wsHub.Run()

	// Feed live alerts, values and scaling actions into the stream.
	s.wsBridge = websocket.NewStreamBridge(wsHub)
	deps.Metrics.RegisterAlertHandler(s.wsBridge.AlertHandler())
	deps.Metrics.RegisterValueListener(s.wsBridge.ValueListener())
	deps.Scaler.RegisterEventListener(s.wsBridge.EventListener())

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CORS(s.corsConfig()))
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.RequestLogger())
	s.router.Use(middleware.TraceID())
	s.router.Use(middleware.RequestSizeLimit(1 << 20))

	if s.config.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(s.config.RateLimit, time.Minute)
		s.router.Use(middleware.RateLimit(rateLimiter))
	}
}

func (s *Server) corsConfig() middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	if len(s.config.CORS.AllowedOrigins) > 0 {
		cors.AllowOrigins = s.config.CORS.AllowedOrigins
	}
	if len(s.config.CORS.AllowedMethods) > 0 {
		cors.AllowMethods = s.config.CORS.AllowedMethods
	}
	if len(s.config.CORS.AllowedHeaders) > 0 {
		cors.AllowHeaders = s.config.CORS.AllowedHeaders
	}
	if len(s.config.CORS.ExposedHeaders) > 0 {
		cors.ExposeHeaders = s.config.CORS.ExposedHeaders
	}
	cors.AllowCredentials = s.config.CORS.AllowCredentials
	return cors
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps.Store, s.deps.DB)
	metricsHandler := handlers.NewMetricsHandler(s.deps.Metrics)
	alertsHandler := handlers.NewAlertsHandler(s.deps.Metrics)
	scalingHandler := handlers.NewScalingHandler(s.deps.Scaler, &s.config)

	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/health/ready", healthHandler.Ready)
	s.router.GET("/health/live", healthHandler.Live)

	s.router.GET("/ws", websocket.ServeWebSocket(s.wsHub))

	// Mutating endpoints get a tighter per-IP budget than the global one.
	endpointLimiter := middleware.NewEndpointRateLimiter()
	endpointLimiter.AddEndpoint("/api/v1/alerts/:id/ack", 30, time.Minute)
	endpointLimiter.AddEndpoint("/api/v1/scaling/policies/:name/enabled", 30, time.Minute)
	endpointLimiter.AddEndpoint("/api/v1/scaling/enabled", 30, time.Minute)

	v1 := s.router.Group("/api/v1")
	v1.Use(endpointLimiter.Middleware())
	{
		v1.GET("/metrics", metricsHandler.List)
		v1.GET("/metrics/:name", metricsHandler.Get)
		v1.GET("/metrics/:name/history", metricsHandler.History)
		v1.POST("/metrics/:name/collect", metricsHandler.Collect)

		v1.GET("/alerts", alertsHandler.List)
		v1.POST("/alerts/:id/ack", alertsHandler.Acknowledge)

		v1.GET("/scaling/policies", scalingHandler.ListPolicies)
		v1.GET("/scaling/policies/:name", scalingHandler.GetPolicy)
		v1.PUT("/scaling/policies/:name/enabled", scalingHandler.SetPolicyEnabled)
		v1.POST("/scaling/policies/:name/evaluate", scalingHandler.Evaluate)
		v1.GET("/scaling/enabled", scalingHandler.Status)
		v1.PUT("/scaling/enabled", scalingHandler.SetEnabled)
		v1.GET("/scaling/:service/events", scalingHandler.Events)
		v1.GET("/scaling/:service/decisions", scalingHandler.Decisions)
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	idleTimeout := s.config.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Drop the live streams first so clients see a clean close.
	s.wsHub.Stop()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) WebSocketHub() *websocket.Hub {
	return s.wsHub
}
