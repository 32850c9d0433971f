package deletion

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/domain"
	appLogger "github.com/fastygo/iamcleaner/pkg/logger"
	"github.com/fastygo/iamcleaner/usecase"
)

// DeletedMarker records the deletion in the ledger.
type DeletedMarker interface {
	MarkDeleted(ctx context.Context, key domain.RecordKey) error
}

// UseCase removes every association of a principal and then the principal itself.
type UseCase struct {
	ledger DeletedMarker
	logger *zap.Logger
}

func New(ledger DeletedMarker, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{ledger: ledger, logger: logger}
}

// Execute detaches policies, drops roles, groups and credentials, then deletes
// the principal. The ledger is only updated when the principal is gone. The
// returned error is non-nil when the principal delete or the ledger write failed.
func (uc *UseCase) Execute(ctx context.Context, backend usecase.IdentityBackend, key domain.RecordKey) ([]domain.StepFailure, error) {
	log := appLogger.WithRunID(ctx, uc.logger).With(zap.String("account_id", key.AccountID), zap.String("username", key.Username))
	steps := usecase.NewStepLog(log)
	username := key.Username

	policies, err := backend.ListAttachedPolicies(ctx, username)
	if steps.Record("list_attached_policies", username, err) {
		for _, policy := range policies {
			steps.Record("detach_policy", policy.ARN, backend.DetachPolicy(ctx, username, policy.ARN))
		}
	}
	inline, err := backend.ListInlinePolicies(ctx, username)
	if steps.Record("list_inline_policies", username, err) {
		for _, name := range inline {
			steps.Record("delete_inline_policy", name, backend.DeleteInlinePolicy(ctx, username, name))
		}
	}

	roles, err := backend.ListRoles(ctx, username)
	if steps.Record("list_roles", username, err) {
		for _, role := range roles {
			steps.Record("remove_role", role, backend.RemoveRole(ctx, username, role))
		}
	}

	groups, err := backend.ListGroups(ctx, username)
	if steps.Record("list_groups", username, err) {
		for _, group := range groups {
			steps.Record("remove_from_group", group, backend.RemoveFromGroup(ctx, username, group))
		}
	}

	credentials, err := backend.ListCredentials(ctx, username)
	if steps.Record("list_credentials", username, err) {
		for _, cred := range credentials {
			steps.Record("delete_credential", cred.ID, backend.DeleteCredential(ctx, username, cred.ID))
		}
	}

	// The login profile blocks the delete just like credentials do.
	steps.Record("remove_login_profile", username, backend.RemoveLoginProfile(ctx, username))

	if err := backend.DeletePrincipal(ctx, username); err != nil && !domain.IsNotFound(err) {
		log.Error("failed to delete principal",
			zap.String("code", string(domain.CodeOf(err))),
			zap.NamedError("steps", steps.Err()),
			zap.Error(err),
		)
		return steps.Failures(), fmt.Errorf("delete principal %s: %w", key, err)
	}

	if err := uc.ledger.MarkDeleted(ctx, key); err != nil {
		log.Error("failed to record deletion", zap.Error(err))
		return steps.Failures(), err
	}
	log.Info("principal deleted")
	return steps.Failures(), nil
}
