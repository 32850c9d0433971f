package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/iamcleaner/api/transport"
	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/internal/infrastructure/monitor"
	"github.com/fastygo/iamcleaner/pkg/httpcontext"
	"github.com/fastygo/iamcleaner/usecase/orchestrate"
)

type fakeRuns struct {
	started []orchestrate.Request
	err     error
	stored  map[string]*domain.RunSummary
}

func (f *fakeRuns) Start(ctx context.Context, req orchestrate.Request) (*domain.RunSummary, error) {
	f.started = append(f.started, req)
	if f.err != nil {
		return &domain.RunSummary{ID: "rejected-1", Status: domain.RunRejected, Error: f.err.Error()}, f.err
	}
	return &domain.RunSummary{ID: "run-1", Mode: domain.Mode(req.Mode), Status: domain.RunRunning}, nil
}

func (f *fakeRuns) Get(ctx context.Context, id string) (*domain.RunSummary, error) {
	if s, ok := f.stored[id]; ok {
		return s, nil
	}
	return nil, domain.ErrRunNotFound
}

type fakeLedger struct {
	rows  []domain.LedgerRecord
	state domain.LifecycleState
	calls []string
}

func (f *fakeLedger) List(ctx context.Context, accountID string, state domain.LifecycleState) ([]domain.LedgerRecord, error) {
	f.calls = append(f.calls, "list")
	f.state = state
	return f.rows, nil
}

func (f *fakeLedger) Candidates(ctx context.Context, accountID string) ([]domain.LedgerRecord, error) {
	f.calls = append(f.calls, "candidates")
	return f.rows, nil
}

type fakeStatus struct{ status monitor.Status }

func (f fakeStatus) GetStatus() monitor.Status { return f.status }

func decode(t *testing.T, ctx *fasthttp.RequestCtx) transport.Envelope {
	t.Helper()
	var env transport.Envelope
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &env))
	return env
}

func post(body string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(http.MethodPost)
	ctx.Request.SetBodyString(body)
	return ctx
}

func TestRunHandlerCreate(t *testing.T) {
	runs := &fakeRuns{}
	h := NewRunHandler(runs, httpcontext.NewAdapter(time.Second), nil)

	ctx := post(`{"detail":{"mode":"sync"},"accounts":["111","222"]}`)
	h.Create(ctx)

	assert.Equal(t, http.StatusAccepted, ctx.Response.StatusCode())
	assert.Equal(t, "/api/v1/runs/run-1", string(ctx.Response.Header.Peek("Location")))
	require.Len(t, runs.started, 1)
	assert.Equal(t, orchestrate.Request{Mode: "sync", Accounts: []string{"111", "222"}}, runs.started[0])
	assert.Equal(t, "success", decode(t, ctx).Status)

	ctx = post(`{"mode":"delete"}`)
	h.Create(ctx)
	assert.Equal(t, http.StatusAccepted, ctx.Response.StatusCode())
	assert.Equal(t, "delete", runs.started[1].Mode)
}

func TestRunHandlerCreateErrors(t *testing.T) {
	runs := &fakeRuns{}
	h := NewRunHandler(runs, nil, nil)

	ctx := post(`{"detail":`)
	h.Create(ctx)
	assert.Equal(t, http.StatusBadRequest, ctx.Response.StatusCode())
	assert.Empty(t, runs.started, "malformed payloads never reach the orchestrator")

	runs.err = domain.ErrInvalidMode
	ctx = post(`{"detail":{"mode":"prod"}}`)
	h.Create(ctx)
	assert.Equal(t, http.StatusBadRequest, ctx.Response.StatusCode())
	env := decode(t, ctx)
	assert.Equal(t, "INVALID", env.Code)
	assert.NotNil(t, env.Meta)

	runs.err = domain.ErrRunInProgress
	ctx = post(`{"detail":{"mode":"delete"}}`)
	h.Create(ctx)
	assert.Equal(t, http.StatusConflict, ctx.Response.StatusCode())
	assert.Equal(t, "CONFLICT", decode(t, ctx).Code)
}

func TestRunHandlerGet(t *testing.T) {
	runs := &fakeRuns{stored: map[string]*domain.RunSummary{
		"run-9": {ID: "run-9", Mode: domain.ModeSync, Status: domain.RunCompleted},
	}}
	h := NewRunHandler(runs, nil, nil)

	ctx := &fasthttp.RequestCtx{}
	ctx.SetUserValue("id", "run-9")
	h.Get(ctx)
	assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"status":"completed"`)

	ctx = &fasthttp.RequestCtx{}
	ctx.SetUserValue("id", "missing")
	h.Get(ctx)
	assert.Equal(t, http.StatusNotFound, ctx.Response.StatusCode())
}

func TestLedgerHandlerList(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{rows: []domain.LedgerRecord{{AccountID: "111", Username: "bob", InactiveAt: &at}}}
	h := NewLedgerHandler(ledger, nil, nil)

	list := func(state string) *fasthttp.RequestCtx {
		ctx := &fasthttp.RequestCtx{}
		ctx.SetUserValue("account", "111")
		if state != "" {
			ctx.QueryArgs().Set("state", state)
		}
		h.List(ctx)
		return ctx
	}

	ctx := list("inactive")
	assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, domain.StateInactive, ledger.state)
	assert.Contains(t, string(ctx.Response.Body()), `"username":"bob"`)
	assert.Contains(t, string(ctx.Response.Body()), `"meta":{"account_id":"111","state":"inactive","count":1}`)

	ctx = list("pending_delete")
	assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, []string{"list", "candidates"}, ledger.calls)

	ctx = list("")
	assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, domain.LifecycleState(""), ledger.state)

	ctx = list("zombie")
	assert.Equal(t, http.StatusBadRequest, ctx.Response.StatusCode())
	assert.Len(t, ledger.calls, 3)
}

func TestHealthHandler(t *testing.T) {
	healthy := monitor.Status{Components: map[string]bool{"ledger": true}, LastCheck: time.Now()}
	ctx := &fasthttp.RequestCtx{}
	NewHealthHandler(fakeStatus{healthy}, nil, nil).Check(ctx)
	assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())

	degraded := monitor.Status{
		Components: map[string]bool{"ledger": true, "redis": false},
		Errors:     map[string]string{"redis": "connection refused"},
		LastCheck:  time.Now(),
	}
	ctx = &fasthttp.RequestCtx{}
	NewHealthHandler(fakeStatus{degraded}, nil, nil).Check(ctx)
	assert.Equal(t, http.StatusServiceUnavailable, ctx.Response.StatusCode())
	assert.Equal(t, "DEGRADED", decode(t, ctx).Code)
}

func TestMapError(t *testing.T) {
	cases := map[domain.ErrorCode]int{
		domain.ErrCodeUnauthorized: http.StatusUnauthorized,
		domain.ErrCodeForbidden:    http.StatusForbidden,
		domain.ErrCodeInvalid:      http.StatusBadRequest,
		domain.ErrCodeNotFound:     http.StatusNotFound,
		domain.ErrCodeConflict:     http.StatusConflict,
		domain.ErrCodeThrottled:    http.StatusTooManyRequests,
		domain.ErrCodeUnavailable:  http.StatusServiceUnavailable,
		domain.ErrCodeInternal:     http.StatusInternalServerError,
	}
	for code, want := range cases {
		status, got := mapError(domain.NewError(code, "x"))
		assert.Equal(t, want, status, code)
		assert.Equal(t, string(code), got)
	}
}
