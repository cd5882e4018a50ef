package internal

import (
	"github.com/prappser/splatfetch/internal/cache"
	"github.com/prappser/splatfetch/internal/health"
	"github.com/prappser/splatfetch/internal/middleware"
	"github.com/prappser/splatfetch/internal/status"
	"github.com/prappser/splatfetch/internal/viewer"
	"github.com/prappser/splatfetch/internal/websocket"
	"github.com/valyala/fasthttp"
)

func NewRequestHandler(config *Config, healthEndpoints *health.HealthEndpoints, statusEndpoints *status.StatusEndpoints, viewerEndpoints *viewer.ViewerEndpoints, cacheEndpoints *cache.Endpoints, wsHandler *websocket.Handler) fasthttp.RequestHandler {
	corsMiddleware := middleware.NewCORSMiddleware(config.AllowedOrigins)

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())

		switch path {
		case "/health":
			healthEndpoints.Health(ctx)
		case "/status":
			statusEndpoints.Status(ctx)

		case "/import":
			middleware.RequireMethod(fasthttp.MethodPost, viewerEndpoints.Import)(ctx)
		case "/import/dialog":
			middleware.RequireMethod(fasthttp.MethodPost, viewerEndpoints.ImportDialog)(ctx)

		case "/cache/stats":
			cacheEndpoints.Stats(ctx)
		case "/cache/sweep":
			middleware.RequireMethod(fasthttp.MethodPost, cacheEndpoints.Sweep)(ctx)

		case "/ws":
			wsHandler.HandleFastHTTP(ctx)

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return middleware.LogRequests(corsMiddleware.Handle(handler))
}
