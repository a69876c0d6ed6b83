package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/auth"
	"github.com/vovakirdan/huddle-server/internal/config"
	"github.com/vovakirdan/huddle-server/internal/core"
	"github.com/vovakirdan/huddle-server/internal/store"
)

// Services are the collaborators the HTTP layer routes into.
type Services struct {
	Hub        *core.Hub
	Gateway    *core.Gateway
	Dispatcher *core.Dispatcher
	Auth       *auth.Service
	Store      store.Store
}

// NewServer builds the HTTP server with health, metrics, WebSocket and history routes.
func NewServer(svc Services, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(MetricsMiddleware())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler(svc.Store))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	history := NewHistoryHandlers(svc, cfg.HistoryLimit, logger)

	api := router.Group("/api")
	api.Use(AuthMiddleware(svc.Auth, logger))
	{
		api.GET("/me", history.Me)
		api.GET("/presence", history.Presence)
		api.GET("/global-messages", history.GlobalMessages)
		api.GET("/get-messages", history.DirectMessages)
		api.GET("/group-messages/:id", history.GroupMessages)
		api.GET("/get-channel-messages", history.ChannelMessages)
		api.POST("/messages/:kind/:id/moderate", history.Moderate)
	}

	// /ws stays on the plain mux: the websocket hijack must see the raw ResponseWriter.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(svc, cfg.MaxMessageBytes, cfg.RateLimitPerMinute, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if st != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := st.Ping(ctx); err != nil {
				c.String(stdhttp.StatusServiceUnavailable, "store unavailable")
				return
			}
		}
		c.String(stdhttp.StatusOK, "ok")
	}
}
