package activity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/domain"
	appLogger "github.com/fastygo/iamcleaner/pkg/logger"
	"github.com/fastygo/iamcleaner/usecase"
)

// UseCase derives the canonical last-access value of a principal.
type UseCase struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{logger: logger}
}

// Resolve returns the latest of the password and credential usage timestamps,
// or the sentinel when neither exists. Ties favor the password. A failed
// last-used lookup is treated as unknown; a failed credential listing is returned.
func (uc *UseCase) Resolve(ctx context.Context, backend usecase.IdentityBackend, principal domain.Principal) (domain.Activity, error) {
	credentials, err := backend.ListCredentials(ctx, principal.Username)
	if err != nil {
		return domain.Activity{}, fmt.Errorf("list credentials of %s: %w", principal.Username, err)
	}

	var credentialUse *domain.Activity
	for _, cred := range credentials {
		last, err := backend.LastCredentialUse(ctx, cred.ID)
		if err != nil {
			appLogger.WithRunID(ctx, uc.logger).Debug("credential last-used lookup failed",
				zap.String("account_id", principal.AccountID),
				zap.String("username", principal.Username),
				zap.String("credential_id", cred.ID),
				zap.String("code", string(domain.CodeOf(err))),
				zap.Error(err),
			)
			continue
		}
		if last == nil || last.IsZero() {
			continue
		}
		if credentialUse == nil || last.After(credentialUse.At) {
			observed := domain.ObservedAt(last.UTC(), domain.SourceCredential)
			credentialUse = &observed
		}
	}

	password := principal.PasswordLastUsed
	switch {
	case password != nil && !password.IsZero() && credentialUse != nil:
		if credentialUse.At.After(*password) {
			return *credentialUse, nil
		}
		return domain.ObservedAt(password.UTC(), domain.SourcePassword), nil
	case password != nil && !password.IsZero():
		return domain.ObservedAt(password.UTC(), domain.SourcePassword), nil
	case credentialUse != nil:
		return *credentialUse, nil
	default:
		return domain.NoActivity(), nil
	}
}
