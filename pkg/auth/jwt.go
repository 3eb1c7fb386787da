package auth

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tokmz/livehub/pkg/ws"
)

// Claims 令牌载荷
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier HS256 令牌校验
type JWTVerifier struct {
	secret  []byte
	issuer  string
	leeway  time.Duration
	clock   clock.Clock
	revoked *RevocationList
}

// JWTOption 校验器选项
type JWTOption func(*JWTVerifier)

// WithIssuer 要求 iss 声明匹配
func WithIssuer(iss string) JWTOption {
	return func(v *JWTVerifier) { v.issuer = iss }
}

// WithLeeway 允许的时钟偏差
func WithLeeway(d time.Duration) JWTOption {
	return func(v *JWTVerifier) { v.leeway = d }
}

// WithClock 替换时钟
func WithClock(c clock.Clock) JWTOption {
	return func(v *JWTVerifier) { v.clock = c }
}

// WithRevocation 拒绝吊销列表中的 jti
func WithRevocation(r *RevocationList) JWTOption {
	return func(v *JWTVerifier) { v.revoked = r }
}

// NewJWTVerifier 创建校验器
func NewJWTVerifier(secret string, opts ...JWTOption) (*JWTVerifier, error) {
	if secret == "" {
		return nil, ErrInvalidSecret
	}
	v := &JWTVerifier{secret: []byte(secret), clock: clock.New()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify 实现 ws.Verifier
// 签名、过期、签发方等问题都视为无效凭证，不返回 error
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*ws.VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, v.key, v.parserOptions()...)
	if err != nil {
		return &ws.VerifyResult{Valid: false}, nil
	}
	if claims.ID != "" && v.revoked.Revoked(claims.ID) {
		return &ws.VerifyResult{Valid: false}, nil
	}

	res := &ws.VerifyResult{
		Valid:          true,
		SubjectID:      claims.Subject,
		DisplayName:    claims.Name,
		ContactAddress: claims.Email,
		Roles:          claims.Roles,
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}

// Issue 签发令牌，ttl 为 0 时不设置过期时间
func (v *JWTVerifier) Issue(claims Claims, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *JWTVerifier) key(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("unexpected signing method")
	}
	return v.secret, nil
}

func (v *JWTVerifier) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithIssuedAt(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.leeway))
	}
	return opts
}
