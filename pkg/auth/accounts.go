package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tokmz/livehub/pkg/cache"
	"github.com/tokmz/livehub/pkg/request"
	"github.com/tokmz/livehub/pkg/ws"
)

// StaticAccounts 内存账号表，未知身份返回 fallback
type StaticAccounts struct {
	mu       sync.RWMutex
	accounts map[string]ws.AccountStatus
	fallback ws.AccountStatus
}

// NewStaticAccounts 创建内存账号表
func NewStaticAccounts(fallback ws.AccountStatus) *StaticAccounts {
	return &StaticAccounts{accounts: make(map[string]ws.AccountStatus), fallback: fallback}
}

// Put 写入账号状态
func (s *StaticAccounts) Put(subjectID string, status ws.AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[subjectID] = status
}

// AccountStatus 实现 ws.AccountLookup
func (s *StaticAccounts) AccountStatus(_ context.Context, subjectID string) (ws.AccountStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.accounts[subjectID]; ok {
		return st, nil
	}
	return s.fallback, nil
}

// AccountKey 账号状态在缓存中的 key
func AccountKey(subjectID string) string { return "account:" + subjectID }

// CacheAccounts 从 cache.Cache 读取由外部写入的账号状态
// 缺失的 key 视为未激活
type CacheAccounts struct {
	cache cache.Cache
}

// NewCacheAccounts 创建缓存账号查询
func NewCacheAccounts(c cache.Cache) *CacheAccounts {
	return &CacheAccounts{cache: c}
}

// AccountStatus 实现 ws.AccountLookup
func (c *CacheAccounts) AccountStatus(ctx context.Context, subjectID string) (ws.AccountStatus, error) {
	var st accountRecord
	err := c.cache.Get(ctx, AccountKey(subjectID), &st)
	if errors.Is(err, cache.ErrCacheNotFound) {
		return ws.AccountStatus{}, nil
	}
	if err != nil {
		return ws.AccountStatus{}, ErrAccountLookup.WithError(err)
	}
	return st.status(), nil
}

// Store 写入账号状态，ttl 为 0 表示使用缓存默认有效期
func (c *CacheAccounts) Store(ctx context.Context, subjectID string, st ws.AccountStatus, ttl time.Duration) error {
	return c.cache.Set(ctx, AccountKey(subjectID), accountRecord{Active: st.Active, Verified: st.Verified}, ttl)
}

type accountRecord struct {
	Active   bool `json:"active"`
	Verified bool `json:"verified"`
}

func (r accountRecord) status() ws.AccountStatus {
	return ws.AccountStatus{Active: r.Active, Verified: r.Verified}
}

// Account 账号表
type Account struct {
	ID        string `gorm:"primaryKey;size:64"`
	Active    bool   `gorm:"not null"`
	Verified  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 表名
func (Account) TableName() string { return "accounts" }

// GormAccounts 从数据库读取账号状态
type GormAccounts struct {
	db *gorm.DB
}

// NewGormAccounts 创建数据库账号查询
func NewGormAccounts(db *gorm.DB) *GormAccounts {
	return &GormAccounts{db: db}
}

// Migrate 建表
func (g *GormAccounts) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&Account{})
}

// AccountStatus 实现 ws.AccountLookup，不存在的账号视为未激活
func (g *GormAccounts) AccountStatus(ctx context.Context, subjectID string) (ws.AccountStatus, error) {
	var a Account
	err := g.db.WithContext(ctx).Select("active", "verified").Where("id = ?", subjectID).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ws.AccountStatus{}, nil
	}
	if err != nil {
		return ws.AccountStatus{}, ErrAccountLookup.WithError(err)
	}
	return ws.AccountStatus{Active: a.Active, Verified: a.Verified}, nil
}

// HTTPAccounts 调用远端账号服务 GET {base}/accounts/{id}
// 404 视为未激活，其它失败返回 error
type HTTPAccounts struct {
	client *request.Client
}

// NewHTTPAccounts 创建远端账号查询
func NewHTTPAccounts(client *request.Client) *HTTPAccounts {
	return &HTTPAccounts{client: client}
}

// AccountStatus 实现 ws.AccountLookup
func (h *HTTPAccounts) AccountStatus(ctx context.Context, subjectID string) (ws.AccountStatus, error) {
	rec, err := request.Do[accountRecord](h.client.Get("/accounts/" + url.PathEscape(subjectID)).SetContext(ctx))
	switch {
	case err == nil:
		return rec.status(), nil
	case request.StatusOf(err) == http.StatusNotFound:
		return ws.AccountStatus{}, nil
	default:
		return ws.AccountStatus{}, ErrAccountLookup.WithError(err)
	}
}

var (
	_ ws.AccountLookup = (*StaticAccounts)(nil)
	_ ws.AccountLookup = (*CacheAccounts)(nil)
	_ ws.AccountLookup = (*GormAccounts)(nil)
	_ ws.AccountLookup = (*HTTPAccounts)(nil)
	_ ws.Verifier      = (*JWTVerifier)(nil)
	_ ws.Verifier      = (*CachingVerifier)(nil)
)

