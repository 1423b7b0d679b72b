package scrape

import "time"

// Chain は同じ役割を持つ要素のセレクタ候補を優先順に並べたもの。
type Chain struct {
	Role       string
	Candidates []string
}

// Resolve は候補を順に待機し、最初に見つかったセレクタを返す。
// 各候補の待機はtimeoutで打ち切る。どれも見つからなければfalseを返す。
func (c Chain) Resolve(page Page, timeout time.Duration) (string, bool) {
	for _, selector := range c.Candidates {
		if err := page.WaitForSelector(selector, timeout); err == nil {
			return selector, true
		}
	}
	return "", false
}
