package viewer

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type ViewerEndpoints struct {
	controller *Controller
	picker     Picker
}

func NewEndpoints(controller *Controller, picker Picker) *ViewerEndpoints {
	return &ViewerEndpoints{
		controller: controller,
		picker:     picker,
	}
}

type ImportRequest struct {
	Path string `json:"path"`
}

type ImportResponse struct {
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

func (ve *ViewerEndpoints) Import(ctx *fasthttp.RequestCtx) {
	var req ImportRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.Error("Invalid request body", fasthttp.StatusBadRequest)
		return
	}
	if req.Path == "" {
		ctx.Error("path is required", fasthttp.StatusBadRequest)
		return
	}

	outcome, err := ve.controller.Import(req.Path)
	ve.respond(ctx, outcome, err)
}

func (ve *ViewerEndpoints) ImportDialog(ctx *fasthttp.RequestCtx) {
	if ve.picker == nil {
		ctx.Error("No file picker configured", fasthttp.StatusNotImplemented)
		return
	}

	outcome, err := ve.controller.ImportDialog(context.Background(), ve.picker)
	if errors.Is(err, ErrPickerCancelled) {
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		return
	}
	ve.respond(ctx, outcome, err)
}

func (ve *ViewerEndpoints) respond(ctx *fasthttp.RequestCtx, outcome Outcome, err error) {
	code := fasthttp.StatusAccepted
	response := ImportResponse{Outcome: outcome}

	switch {
	case err != nil:
		log.Error().Err(err).Msg("Import failed")
		code = fasthttp.StatusInternalServerError
		response.Error = err.Error()
	case outcome == OutcomeBusy:
		code = fasthttp.StatusConflict
	case outcome == OutcomeCacheHit:
		code = fasthttp.StatusOK
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(code)
	ctx.SetBody(responseJSON)
}
