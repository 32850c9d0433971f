package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/api/transport"
	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/pkg/httpcontext"
	"github.com/fastygo/iamcleaner/usecase/orchestrate"
)

// RunService starts runs and looks up their summaries.
type RunService interface {
	Start(ctx context.Context, req orchestrate.Request) (*domain.RunSummary, error)
	Get(ctx context.Context, id string) (*domain.RunSummary, error)
}

type RunHandler struct {
	baseHandler
	runs RunService
}

func NewRunHandler(runs RunService, adapter *httpcontext.Adapter, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		baseHandler: newBaseHandler(adapter, logger),
		runs:        runs,
	}
}

// @Summary Trigger a run
// @Tags runs
// @Router /api/v1/runs [post]
func (h *RunHandler) Create(ctx *fasthttp.RequestCtx) {
	var req transport.RunRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.respondError(ctx, domain.WrapError(domain.ErrCodeInvalid, "invalid payload", err))
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	summary, err := h.runs.Start(stdCtx, orchestrate.Request{
		Mode:     req.ModeSignal(),
		Accounts: req.Accounts,
	})
	if err != nil {
		if summary != nil {
			h.respondErrorWithMeta(ctx, err, summary)
			return
		}
		h.respondError(ctx, err)
		return
	}

	h.log(stdCtx).Info("run accepted",
		zap.String("run_id", summary.ID),
		zap.String("mode", string(summary.Mode)),
		zap.String("operator", httpcontext.Operator(stdCtx)))
	ctx.Response.Header.Set("Location", "/api/v1/runs/"+summary.ID)
	h.respondSuccess(ctx, http.StatusAccepted, summary)
}

// @Summary Get a run summary
// @Tags runs
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) Get(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	if id == "" {
		h.respondError(ctx, domain.ErrInvalidPayload)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	summary, err := h.runs.Get(stdCtx, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, summary)
}
