// Package httpapi is the operational HTTP surface over a running
// core.Node: read-only status, a synchronous latency query for manual
// testing, a config-change endpoint, and a WebSocket status stream —
// none of it part of the CEC wire protocol, all of it the same kind
// of operator-facing surface the teacher provides over its protocol
// core (internal/http/api in USA-RedDragon/DMRHub).
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cec-lip/lipd/internal/config"
	"github.com/cec-lip/lipd/internal/core"
	"github.com/cec-lip/lipd/internal/httpmiddleware"
	"github.com/cec-lip/lipd/internal/pubsub"
	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	readTimeout       = 10 * time.Second
	debugWriteTimeout = 60 * time.Second
)

// Server is the operational HTTP server wrapping a *core.Node.
type Server struct {
	httpServer *http.Server
}

// MakeServer builds the gin router for node and wraps it in an
// *http.Server bound to cfg.HTTP, mirroring the teacher's
// http.MakeServer shape (router construction separated from listener
// construction so tests can exercise the router directly).
func MakeServer(cfg *config.Config, node *core.Node, ps pubsub.PubSub) Server {
	r := CreateRouter(cfg, node, ps)

	writeTimeout := readTimeout
	if cfg.LogLevel == config.LogLevelDebug {
		writeTimeout = debugWriteTimeout
	}

	s := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return Server{httpServer: s}
}

// Start blocks serving HTTP until the listener fails or Stop is
// called, at which point it returns http.ErrServerClosed.
func (s Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}

// CreateRouter builds the gin.Engine, exported separately from
// MakeServer so tests can drive routes without a bound listener.
func CreateRouter(cfg *config.Config, node *core.Node, ps pubsub.PubSub) *gin.Engine {
	if cfg.LogLevel == config.LogLevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	if err := r.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		panic(fmt.Errorf("httpapi: set trusted proxies: %w", err))
	}

	if cfg.Metrics.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("lipd"))
		r.Use(httpmiddleware.TracingProvider(cfg))
	}

	if len(cfg.HTTP.CORSHosts) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.HTTP.CORSHosts
		corsConfig.AllowMethods = []string{"GET", "POST", "PATCH"}
		r.Use(cors.New(corsConfig))
	}

	ctl := &controller{node: node, ps: ps}

	r.GET("/status", ctl.getStatus)
	r.GET("/ws/status", ctl.wsStatus)

	limited := r.Group("/")
	limited.Use(queryRateLimiter(cfg))
	limited.POST("/query", ctl.postQuery)

	r.PATCH("/config", ctl.patchConfig)

	return r
}

// queryRateLimiter guards /query, the one endpoint that can drive a
// downstream wire round trip and therefore the one worth protecting
// from a hammering dashboard client, mirroring the teacher's
// JGLTechnologies/gin-rate-limit use in internal/http/ratelimit.
func queryRateLimiter(cfg *config.Config) gin.HandlerFunc {
	rate := time.Second
	limit := uint(cfg.HTTP.RateLimitRPS)
	if limit == 0 {
		limit = 1
	}
	store := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  rate,
		Limit: limit,
	})
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: func(c *gin.Context, info ratelimit.Info) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": time.Until(info.ResetTime).Seconds(),
			})
		},
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})
}
