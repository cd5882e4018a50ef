package middleware

import (
	"regexp"

	"github.com/valyala/fasthttp"
)

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1)(:\d+)?$`)

// CORSMiddleware lets browser-based viewers on other local ports poll the
// control surface.
type CORSMiddleware struct {
	allowedOrigins []string
}

func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	return &CORSMiddleware{
		allowedOrigins: allowedOrigins,
	}
}

func (cm *CORSMiddleware) Handle(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		origin := string(ctx.Request.Header.Peek("Origin"))

		if origin != "" && cm.isOriginAllowed(origin) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Vary", "Origin")
		}

		ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type")
		ctx.Response.Header.Set("Access-Control-Max-Age", "86400")

		if ctx.IsOptions() {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		next(ctx)
	}
}

// isOriginAllowed accepts configured origins, "*" for any origin, and any
// localhost origin when nothing is configured.
func (cm *CORSMiddleware) isOriginAllowed(origin string) bool {
	if len(cm.allowedOrigins) == 0 {
		return localhostOrigin.MatchString(origin)
	}
	for _, allowed := range cm.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if allowed == "http://localhost:*" && localhostOrigin.MatchString(origin) {
			return true
		}
	}
	return false
}
