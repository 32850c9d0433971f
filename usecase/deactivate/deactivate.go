package deactivate

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/domain"
	appLogger "github.com/fastygo/iamcleaner/pkg/logger"
	"github.com/fastygo/iamcleaner/usecase"
)

// InactiveMarker records the deactivation in the ledger.
type InactiveMarker interface {
	MarkInactive(ctx context.Context, key domain.RecordKey) error
}

// UseCase strips a principal of its means of access and records it inactive.
type UseCase struct {
	ledger InactiveMarker
	logger *zap.Logger
}

func New(ledger InactiveMarker, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{ledger: ledger, logger: logger}
}

// Execute runs every step regardless of earlier failures and returns the
// failed steps. The error is non-nil only when the ledger write failed.
func (uc *UseCase) Execute(ctx context.Context, backend usecase.IdentityBackend, principal domain.Principal) ([]domain.StepFailure, error) {
	log := appLogger.WithRunID(ctx, uc.logger).With(zap.String("account_id", principal.AccountID), zap.String("username", principal.Username))
	steps := usecase.NewStepLog(log)
	username := principal.Username

	credentials, err := backend.ListCredentials(ctx, username)
	if steps.Record("list_credentials", username, err) {
		for _, cred := range credentials {
			// An inactive key already satisfies this step.
			if cred.Status == domain.CredentialInactive {
				continue
			}
			steps.Record("disable_credential", cred.ID, backend.DisableCredential(ctx, username, cred.ID))
		}
	}

	steps.Record("remove_login_profile", username, backend.RemoveLoginProfile(ctx, username))

	policies, err := backend.ListAttachedPolicies(ctx, username)
	if steps.Record("list_attached_policies", username, err) {
		for _, policy := range policies {
			steps.Record("detach_policy", policy.ARN, backend.DetachPolicy(ctx, username, policy.ARN))
		}
	}

	if err := uc.ledger.MarkInactive(ctx, principal.Key()); err != nil {
		log.Error("failed to record deactivation", zap.Error(err))
		return steps.Failures(), err
	}

	if stepErr := steps.Err(); stepErr != nil {
		log.Warn("principal deactivated with failed steps", zap.Error(stepErr))
	} else {
		log.Info("principal deactivated")
	}
	return steps.Failures(), nil
}
