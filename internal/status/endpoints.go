package status

import (
	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

type Source interface {
	Status() Status
}

type StatusEndpoints struct {
	source Source
}

func NewEndpoints(source Source) *StatusEndpoints {
	return &StatusEndpoints{
		source: source,
	}
}

func (se *StatusEndpoints) Status(ctx *fasthttp.RequestCtx) {
	response := ToView(se.source.Status())

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetBody(responseJSON)
}
