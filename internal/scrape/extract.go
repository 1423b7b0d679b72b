package scrape

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/security"
)

// AvailableDate はテキスト走査で見つけた、日付を特定できない予約枠のDate値。
const AvailableDate = "Available"

// maxTextCandidates はテキスト走査で拾う行数の上限。
const maxTextCandidates = 20

// maxSlotTextLen は予約枠1件のDate・Time・Detailsそれぞれの文字数上限。
const maxSlotTextLen = 500

// slotSelectors は予約枠要素のセレクタ候補。上から順に評価する。
var slotSelectors = []string{
	"[data-appointment]",
	"[data-slot]",
	".appointment",
	".appointment-slot",
	".available-slot",
	".time-slot",
	".timeslot",
	".booking-slot",
	".calendar-slot",
	".slot",
}

// unavailableClasses は予約不可を示すクラス名。
var unavailableClasses = map[string]bool{
	"unavailable": true,
	"booked":      true,
	"disabled":    true,
	"full":        true,
	"sold-out":    true,
	"soldout":     true,
	"closed":      true,
}

// unavailableStatuses はdata-statusで予約不可を示す値。
var unavailableStatuses = map[string]bool{
	"unavailable": true,
	"booked":      true,
	"full":        true,
	"closed":      true,
}

const (
	dateChildSelector = ".date, [class*='date'], time"
	timeChildSelector = ".time, [class*='time']"
)

// skippedTextElements は可視テキストに含めない要素。
var skippedTextElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// blockElements は行の区切りとして扱う要素。
var blockElements = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true, "td": true, "th": true,
	"section": true, "article": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "dt": true, "dd": true, "option": true, "button": true, "a": true,
}

var (
	availabilityKeywords = []string{"available", "open", "vacant", "空きあり", "空き", "予約可"}
	slotKeywords         = []string{"appointment", "slot", "booking", "reservation", "予約", "枠"}
	negativeKeywords     = []string{
		"unavailable", "not available", "no available", "no appointments", "no slots",
		"fully booked", "満席", "空きなし", "予約不可",
	}
)

// Extractor はページのHTMLスナップショットから予約可能な枠を抽出する。
type Extractor struct {
	sanitizer security.TextSanitizer
}

// NewExtractor はExtractorを生成する。
func NewExtractor(sanitizer security.TextSanitizer) *Extractor {
	return &Extractor{sanitizer: sanitizer}
}

// Extract はHTMLを解析して予約可能な枠を返す。
// 構造化された枠が1つも見つからない場合はテキスト走査にフォールバックする。
func (e *Extractor) Extract(content string) ([]model.Slot, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("HTMLの解析に失敗しました: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	slots, found := e.extractStructured(doc)
	if found > 0 {
		return slots, nil
	}
	return e.scanText(root), nil
}

// extractStructured はセレクタ候補に一致する要素から枠を抽出する。
// 2つ目の戻り値は予約不可も含めた一致要素数。
func (e *Extractor) extractStructured(doc *goquery.Document) ([]model.Slot, int) {
	seen := make(map[*html.Node]bool)
	slots := []model.Slot{}

	for _, selector := range slotSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			if seen[node] {
				return
			}
			seen[node] = true

			if isUnavailable(s) {
				return
			}
			slots = append(slots, e.slotFrom(s))
		})
	}
	return slots, len(seen)
}

func (e *Extractor) slotFrom(s *goquery.Selection) model.Slot {
	date, ok := s.Attr("data-date")
	if !ok {
		if child := s.Find(dateChildSelector).First(); child.Length() > 0 {
			date = child.Text()
		} else {
			date = s.Text()
		}
	}

	tm, ok := s.Attr("data-time")
	if !ok {
		if child := s.Find(timeChildSelector).First(); child.Length() > 0 {
			tm = child.Text()
		}
	}

	details, ok := s.Attr("data-details")
	if !ok {
		details = s.AttrOr("title", "")
	}

	return model.Slot{
		Date:    e.cleanText(date),
		Time:    e.cleanText(tm),
		Details: e.cleanText(details),
	}
}

// cleanText はタグを除去し、maxSlotTextLen文字に切り詰める。
func (e *Extractor) cleanText(raw string) string {
	return clampRunes(e.sanitizer.SanitizeText(raw), maxSlotTextLen)
}

func clampRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// isUnavailable は要素が予約不可の印を持つかどうかを判定する。
func isUnavailable(s *goquery.Selection) bool {
	for _, class := range strings.Fields(strings.ToLower(s.AttrOr("class", ""))) {
		if unavailableClasses[class] {
			return true
		}
	}
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if strings.EqualFold(s.AttrOr("aria-disabled", ""), "true") {
		return true
	}
	if strings.EqualFold(s.AttrOr("data-available", ""), "false") {
		return true
	}
	return unavailableStatuses[strings.ToLower(s.AttrOr("data-status", ""))]
}

// scanText は可視テキストを行に分割し、空き状況と予約枠の両方を示す行を候補にする。
func (e *Extractor) scanText(root *html.Node) []model.Slot {
	var b strings.Builder
	collectVisibleText(root, &b)

	slots := []model.Slot{}
	for _, line := range strings.Split(b.String(), "\n") {
		line = e.sanitizer.SanitizeText(line)
		if line == "" || !isAvailabilityLine(line) {
			continue
		}
		slots = append(slots, model.Slot{Date: AvailableDate, Details: clampRunes(line, maxSlotTextLen)})
		if len(slots) >= maxTextCandidates {
			break
		}
	}
	return slots
}

func collectVisibleText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skippedTextElements[n.Data] {
			return
		}
	case html.CommentNode:
		return
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectVisibleText(c, b)
	}
	if block {
		b.WriteByte('\n')
	}
}

func isAvailabilityLine(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	return containsAny(lower, availabilityKeywords) && containsAny(lower, slotKeywords)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
