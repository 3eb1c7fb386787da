package auth

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// RevocationList 已吊销令牌 ID 集合
// 布隆过滤器先行判断，命中后再查精确集合，未吊销的令牌通常只走过滤器
type RevocationList struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	ids    map[string]struct{}
}

// NewRevocationList expected 为预估条目数，fpRate 为过滤器误判率
func NewRevocationList(expected uint, fpRate float64, ids ...string) *RevocationList {
	if expected == 0 {
		expected = 1024
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	r := &RevocationList{
		filter: bloom.NewWithEstimates(expected, fpRate),
		ids:    make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		r.Revoke(id)
	}
	return r
}

// Revoke 吊销令牌 ID
func (r *RevocationList) Revoke(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter.AddString(id)
	r.ids[id] = struct{}{}
}

// Revoked nil 列表视为空
func (r *RevocationList) Revoked(id string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.filter.TestString(id) {
		return false
	}
	_, ok := r.ids[id]
	return ok
}

// Len 已吊销数量
func (r *RevocationList) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
