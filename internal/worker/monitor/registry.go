// Package monitor は監視サイトの定期チェックを提供する。
// スキャン対象の選定、サイト単位の多重実行防止、上限付き並列実行によるバッチ処理を含む。
package monitor

import (
	"sync"
	"time"
)

// Registry は実行中のサイトチェックを管理する。
// 1プロセス内で同じサイトのチェックが同時に2つ走らないようにする。
type Registry struct {
	mu       sync.Mutex
	inFlight map[string]time.Time
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{inFlight: make(map[string]time.Time)}
}

// TryAcquire はサイトが実行中でなければ登録し、解放関数を返す。
// 既に実行中の場合は待たずにfalseを返す。解放関数は何度呼んでも1回だけ解放する。
func (r *Registry) TryAcquire(siteID string) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.inFlight[siteID]; busy {
		return nil, false
	}
	r.inFlight[siteID] = time.Now()

	var once sync.Once
	return func() {
		once.Do(func() { r.Release(siteID) })
	}, true
}

// Release はサイトの登録を無条件に解除する。
func (r *Registry) Release(siteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, siteID)
}
