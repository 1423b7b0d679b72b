package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter はホストごとのアクセス頻度を制限する。
// 複数ユーザーが同じサイトを監視していても、1ホストへのアクセスは設定レート以下に抑える。
type HostLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter はHostLimiterを生成する。rpsが0以下の場合は制限しない。
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &HostLimiter{
		rps:      limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait はURLのホストのトークンが得られるまで待機する。
// コンテキストがキャンセルされた場合はエラーを返す。
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URLの解析に失敗しました: %w", err)
	}
	return h.limiterFor(strings.ToLower(u.Hostname())).Wait(ctx)
}

func (h *HostLimiter) limiterFor(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.rps, h.burst)
		h.limiters[host] = l
	}
	return l
}
