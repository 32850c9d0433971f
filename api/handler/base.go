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
	appLogger "github.com/fastygo/iamcleaner/pkg/logger"
)

type baseHandler struct {
	adapter *httpcontext.Adapter
	logger  *zap.Logger
}

func newBaseHandler(adapter *httpcontext.Adapter, logger *zap.Logger) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return baseHandler{adapter: adapter, logger: logger}
}

func (h baseHandler) requestContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	if h.adapter != nil {
		return h.adapter.Attach(ctx)
	}
	return context.WithCancel(context.Background())
}

func (h baseHandler) respondJSON(ctx *fasthttp.RequestCtx, status int, payload transport.Envelope) {
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	body, _ := json.Marshal(payload)
	ctx.SetBody(body)
}

func (h baseHandler) respondSuccess(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	h.respondJSON(ctx, status, transport.NewSuccess(data, nil))
}

func (h baseHandler) respondError(ctx *fasthttp.RequestCtx, err error) {
	h.respondErrorWithMeta(ctx, err, nil)
}

func (h baseHandler) respondErrorWithMeta(ctx *fasthttp.RequestCtx, err error, meta interface{}) {
	status, code := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", string(ctx.Path())),
			zap.String("request_id", string(ctx.Response.Header.Peek("X-Request-ID"))),
			zap.Error(err))
	}
	h.respondJSON(ctx, status, transport.NewError(code, err.Error(), meta))
}

func (h baseHandler) log(stdCtx context.Context) *zap.Logger {
	return appLogger.WithRequestID(stdCtx, h.logger)
}

func mapError(err error) (int, string) {
	code := domain.CodeOf(err)
	switch code {
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized, string(code)
	case domain.ErrCodeForbidden:
		return http.StatusForbidden, string(code)
	case domain.ErrCodeInvalid:
		return http.StatusBadRequest, string(code)
	case domain.ErrCodeNotFound:
		return http.StatusNotFound, string(code)
	case domain.ErrCodeConflict:
		return http.StatusConflict, string(code)
	case domain.ErrCodeThrottled:
		return http.StatusTooManyRequests, string(code)
	case domain.ErrCodeUnavailable:
		return http.StatusServiceUnavailable, string(code)
	default:
		return http.StatusInternalServerError, string(domain.ErrCodeInternal)
	}
}
