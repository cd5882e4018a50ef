package middleware

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// RequireMethod rejects requests whose method is not method.
func RequireMethod(method string, handler fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Method()) != method {
			ctx.Response.Header.Set("Allow", method)
			ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			return
		}
		handler(ctx)
	}
}

// LogRequests writes one debug line per request.
func LogRequests(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		log.Debug().
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", ctx.Response.StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("Handled request")
	}
}
