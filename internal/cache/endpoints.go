package cache

import (
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	cache *Cache
}

func NewEndpoints(cache *Cache) *Endpoints {
	return &Endpoints{
		cache: cache,
	}
}

type statsResponse struct {
	Stats
	TotalSizeMB   float64 `json:"totalSizeMB"`
	MaxAgeSeconds float64 `json:"maxAgeSeconds"`
	Dir           string  `json:"dir"`
}

type sweepResponse struct {
	Removed int `json:"removed"`
}

func (e *Endpoints) Stats(ctx *fasthttp.RequestCtx) {
	stats := e.cache.Stats()
	writeJSON(ctx, fasthttp.StatusOK, statsResponse{
		Stats:         stats,
		TotalSizeMB:   stats.TotalSizeMB(),
		MaxAgeSeconds: e.cache.MaxAge().Seconds(),
		Dir:           e.cache.Dir(),
	})
}

func (e *Endpoints) Sweep(ctx *fasthttp.RequestCtx) {
	removed, err := e.cache.SweepExpired()
	if err != nil {
		log.Error().Err(err).Msg("Manual cache sweep failed")
		ctx.Error("Failed to sweep cache", fasthttp.StatusInternalServerError)
		return
	}

	log.Info().Int("removed", removed).Msg("Manual cache sweep completed")
	writeJSON(ctx, fasthttp.StatusOK, sweepResponse{Removed: removed})
}

func writeJSON(ctx *fasthttp.RequestCtx, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(code)
	ctx.SetBody(body)
}
