package httpcontext

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	appLogger "github.com/fastygo/iamcleaner/pkg/logger"
)

// Key represents a context value key exported for reuse.
type Key string

const (
	KeyRemoteAddr Key = "remote_addr"
	KeyUserAgent  Key = "user_agent"
	KeyOperator   Key = "operator"
)

// UserValueOperator is the fasthttp user value the auth middleware stores the token subject under.
const UserValueOperator = "operator"

// Adapter converts fasthttp.RequestCtx into a stdlib context with deadlines and metadata.
type Adapter struct {
	base    context.Context
	timeout time.Duration
}

// NewAdapter constructs a new Adapter using the provided timeout.
func NewAdapter(timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{
		base:    context.Background(),
		timeout: timeout,
	}
}

// WithBase derives request contexts from ctx so they end on shutdown.
func (a *Adapter) WithBase(ctx context.Context) *Adapter {
	if ctx != nil {
		a.base = ctx
	}
	return a
}

// Attach creates a context with timeout derived from the adapter and enriches it with request metadata.
func (a *Adapter) Attach(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	stdCtx, cancel := context.WithTimeout(a.base, a.timeout)

	reqID := getRequestID(ctx)
	stdCtx = appLogger.ContextWithRequestID(stdCtx, reqID)
	ctx.Response.Header.Set("X-Request-ID", reqID)

	if remoteAddr := ctx.RemoteAddr(); remoteAddr != nil {
		stdCtx = context.WithValue(stdCtx, KeyRemoteAddr, remoteAddr.String())
	}
	if ua := string(ctx.Request.Header.UserAgent()); ua != "" {
		stdCtx = context.WithValue(stdCtx, KeyUserAgent, ua)
	}
	if op, ok := ctx.UserValue(UserValueOperator).(string); ok && op != "" {
		stdCtx = context.WithValue(stdCtx, KeyOperator, op)
	}

	return stdCtx, cancel
}

// Operator returns the authenticated subject attached to ctx.
func Operator(ctx context.Context) string {
	if v, ok := ctx.Value(KeyOperator).(string); ok {
		return v
	}
	return ""
}

func getRequestID(ctx *fasthttp.RequestCtx) string {
	if ctx == nil {
		return uuid.NewString()
	}
	if header := string(ctx.Request.Header.Peek("X-Request-ID")); strings.TrimSpace(header) != "" {
		return header
	}
	return uuid.NewString()
}
