package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/api/transport"
	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/pkg/httpcontext"
)

// statePendingDelete lists rows the next delete run would act on.
const statePendingDelete = "pending_delete"

// LedgerReader lists ledger rows of one account.
type LedgerReader interface {
	List(ctx context.Context, accountID string, state domain.LifecycleState) ([]domain.LedgerRecord, error)
	// Candidates lists the inactive rows already past the delete threshold.
	Candidates(ctx context.Context, accountID string) ([]domain.LedgerRecord, error)
}

type LedgerHandler struct {
	baseHandler
	ledger LedgerReader
}

func NewLedgerHandler(ledger LedgerReader, adapter *httpcontext.Adapter, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		baseHandler: newBaseHandler(adapter, logger),
		ledger:      ledger,
	}
}

// @Summary List ledger rows of an account
// @Tags ledger
// @Router /api/v1/ledger/{account} [get]
func (h *LedgerHandler) List(ctx *fasthttp.RequestCtx) {
	account, _ := ctx.UserValue("account").(string)
	if strings.TrimSpace(account) == "" {
		h.respondError(ctx, domain.ErrInvalidPayload)
		return
	}
	state := strings.ToLower(string(ctx.QueryArgs().Peek("state")))

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	var (
		rows []domain.LedgerRecord
		err  error
	)
	switch state {
	case statePendingDelete:
		rows, err = h.ledger.Candidates(stdCtx, account)
	case "", string(domain.StateActive), string(domain.StateInactive), string(domain.StateDeleted):
		rows, err = h.ledger.List(stdCtx, account, domain.LifecycleState(state))
	default:
		err = domain.WrapError(domain.ErrCodeInvalid, "invalid state",
			fmt.Errorf("unsupported state %q (want active, inactive, deleted or pending_delete)", state))
	}
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	if rows == nil {
		rows = []domain.LedgerRecord{}
	}
	h.respondJSON(ctx, http.StatusOK, transport.NewSuccess(rows, transport.ListMeta{
		AccountID: account,
		State:     state,
		Count:     len(rows),
	}))
}
