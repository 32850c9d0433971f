package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/internal/config"
	"github.com/fastygo/iamcleaner/usecase"
)

// SessionProvider assumes a role in each target account and hands out an IAM
// backend bound to the resulting credentials.
type SessionProvider struct {
	base   awssdk.Config
	cfg    config.AWSConfig
	sts    *sts.Client
	logger *zap.Logger
}

var _ usecase.SessionProvider = (*SessionProvider)(nil)

func NewSessionProvider(base awssdk.Config, cfg config.AWSConfig, logger *zap.Logger) *SessionProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionProvider{
		base:   base,
		cfg:    cfg,
		sts:    newSTSClient(base, cfg.Endpoint),
		logger: logger,
	}
}

// RoleARN is the role assumed in accountID.
func (p *SessionProvider) RoleARN(accountID string) string {
	partition := p.cfg.Partition
	if partition == "" {
		partition = "aws"
	}
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", partition, accountID, p.cfg.AssumeRoleName)
}

// SessionName is the role session name used for accountID.
func (p *SessionProvider) SessionName(accountID string) string {
	return fmt.Sprintf("%s-%s", p.cfg.SessionPrefix, accountID)
}

func (p *SessionProvider) Assume(ctx context.Context, accountID string) (usecase.IdentityBackend, error) {
	roleARN := p.RoleARN(accountID)
	provider := stscreds.NewAssumeRoleProvider(p.sts, roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = p.SessionName(accountID)
		if p.cfg.SessionDuration > 0 {
			o.Duration = p.cfg.SessionDuration
		}
	})

	scoped := p.base.Copy()
	scoped.Credentials = awssdk.NewCredentialsCache(provider)

	if p.cfg.VerifyIdentity {
		out, err := newSTSClient(scoped, p.cfg.Endpoint).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return nil, assumeError(accountID, classify("get caller identity", err))
		}
		if got := awssdk.ToString(out.Account); got != accountID {
			return nil, domain.WrapError(domain.ErrCodeForbidden, "assume role",
				fmt.Errorf("assumed identity belongs to account %s, want %s", got, accountID))
		}
	}

	p.logger.Debug("assumed account session", zap.String("account_id", accountID), zap.String("role_arn", roleARN))
	client := iam.NewFromConfig(scoped, func(o *iam.Options) {
		if p.cfg.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(p.cfg.Endpoint)
		}
	})
	return NewBackend(client, accountID), nil
}

// assumeError reports an unreachable account as FORBIDDEN unless the failure is transient.
func assumeError(accountID string, err error) error {
	if domain.IsRetryable(err) {
		return err
	}
	return domain.WrapError(domain.ErrCodeForbidden, "assume role", fmt.Errorf("account %s: %w", accountID, err))
}

func newSTSClient(cfg awssdk.Config, endpoint string) *sts.Client {
	return sts.NewFromConfig(cfg, func(o *sts.Options) {
		if endpoint != "" {
			o.BaseEndpoint = awssdk.String(endpoint)
		}
	})
}
