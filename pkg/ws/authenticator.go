package ws

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tokmz/livehub/pkg/errors"
	"github.com/tokmz/livehub/pkg/logger"
)

// Authenticator 握手认证
type Authenticator struct {
	verifier Verifier
	accounts AccountLookup
	timeout  time.Duration
	group    singleflight.Group
	log      logger.Logger
	tracer   trace.Tracer
}

// NewAuthenticator 创建认证器，accounts 可为 nil（不查询账号状态）
func NewAuthenticator(verifier Verifier, accounts AccountLookup, timeout time.Duration, log logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Authenticator{
		verifier: verifier,
		accounts: accounts,
		timeout:  timeout,
		log:      log,
		tracer:   otel.Tracer("livehub.ws"),
	}
}

// Authenticate 依次执行：提取凭证、校验凭证、检查账号状态、检查角色
// 没有凭证且策略不要求认证时返回匿名身份
func (a *Authenticator) Authenticate(ctx context.Context, hs Handshake, policy Policy) (*Identity, error) {
	ctx, span := a.tracer.Start(ctx, "ws.authenticate")
	defer span.End()

	token, ok := ExtractToken(hs)
	if !ok {
		if policy.RequireAuth {
			span.SetStatus(codes.Error, "missing credential")
			return nil, errors.ErrMissingCredential
		}
		span.SetAttributes(attribute.Bool("ws.anonymous", true))
		return AnonymousIdentity(), nil
	}

	id, err := a.Resolve(ctx, token, policy)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ws.subject_id", id.SubjectID))
	return id, nil
}

// Resolve 校验凭证并应用策略，用于握手与凭证刷新
func (a *Authenticator) Resolve(ctx context.Context, token string, policy Policy) (*Identity, error) {
	res, err := a.verify(ctx, token)
	if err != nil {
		a.log.WarnContext(ctx, "identity verifier unavailable", zap.Error(err))
		return nil, errors.ErrInvalidCredential.WithError(errors.ErrVerifierUnavailable.WithError(err))
	}
	if res == nil || !res.Valid || res.SubjectID == "" {
		return nil, errors.ErrInvalidCredential
	}

	id := &Identity{
		SubjectID:      res.SubjectID,
		DisplayName:    res.DisplayName,
		ContactAddress: res.ContactAddress,
		Roles:          NewRoleSet(res.Roles...),
	}

	if a.accounts != nil {
		status, err := a.lookup(ctx, res.SubjectID)
		if err != nil {
			a.log.WarnContext(ctx, "account lookup unavailable",
				zap.String("subject_id", res.SubjectID), zap.Error(err))
			return nil, errors.ErrInvalidCredential.WithError(errors.ErrVerifierUnavailable.WithError(err))
		}
		if !status.Active {
			return nil, errors.ErrAccountDeactivated
		}
		id.Verified = status.Verified
	}

	if policy.RequireVerified && !id.Verified {
		return nil, errors.ErrVerificationRequired
	}
	if len(policy.RequiredRoles) > 0 && !id.Roles.HasAny(policy.RequiredRoles) {
		return nil, errors.ErrInsufficientRole.WithDetails(map[string]any{"required": policy.RequiredRoles})
	}
	return id, nil
}

// verify 合并相同凭证的并发校验；共享调用不随单个调用方取消
func (a *Authenticator) verify(ctx context.Context, token string) (*VerifyResult, error) {
	ch := a.group.DoChan(token, func() (any, error) {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		return a.verifier.Verify(vctx, token)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res, _ := r.Val.(*VerifyResult)
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Authenticator) lookup(ctx context.Context, subjectID string) (AccountStatus, error) {
	lctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.accounts.AccountStatus(lctx, subjectID)
}
