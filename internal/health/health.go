package health

import (
	"github.com/goccy/go-json"
	"github.com/prappser/splatfetch/internal/cache"
	"github.com/prappser/splatfetch/internal/status"
	"github.com/valyala/fasthttp"
)

type HealthEndpoints struct {
	version string
	source  status.Source
	cache   *cache.Cache
	server  string
}

func NewEndpoints(version string, source status.Source, c *cache.Cache, server string) *HealthEndpoints {
	return &HealthEndpoints{
		version: version,
		source:  source,
		cache:   c,
		server:  server,
	}
}

type HealthResponse struct {
	Status  string      `json:"status"`
	Version string      `json:"version"`
	Server  string      `json:"server"`
	Session string      `json:"session"`
	Cache   cache.Stats `json:"cache"`
}

func (h *HealthEndpoints) Health(ctx *fasthttp.RequestCtx) {
	response := HealthResponse{
		Status:  "ok",
		Version: h.version,
		Server:  h.server,
		Session: string(h.source.Status().Kind()),
		Cache:   h.cache.Stats(),
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetBody(responseJSON)
}
