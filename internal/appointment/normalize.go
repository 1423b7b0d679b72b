// Package appointment は予約枠の日付正規化、重複排除、統計を提供する。
package appointment

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/apptwatch/internal/metrics"
)

// datePattern は数値日付パターンと、フィールドの並び順。
type datePattern struct {
	re        *regexp.Regexp
	hasYear   bool
	yearFirst bool
}

const (
	yearGroup     = `(\d{4})`
	monthDayGroup = `(\d{1,2})`
)

// datePatterns は評価順に並べた数値日付パターン。
// 年を含むパターンの並び順は、パターン文字列中の年グループと月日グループの位置から決める。
var datePatterns = compileDatePatterns(
	monthDayGroup+`/`+monthDayGroup+`/`+yearGroup,
	monthDayGroup+`-`+monthDayGroup+`-`+yearGroup,
	yearGroup+`-`+monthDayGroup+`-`+monthDayGroup,
	monthDayGroup+`/`+monthDayGroup,
)

func compileDatePatterns(sources ...string) []datePattern {
	patterns := make([]datePattern, 0, len(sources))
	for _, src := range sources {
		p := datePattern{re: regexp.MustCompile(src)}
		if yi := strings.Index(src, yearGroup); yi >= 0 {
			p.hasYear = true
			p.yearFirst = yi < strings.Index(src, monthDayGroup)
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// disallowedDateChars は数字、/、-、空白、: 以外の文字。
var disallowedDateChars = regexp.MustCompile(`[^\d/\-\s:]`)

// fallbackLayouts は数値パターンに一致しなかった場合に試す書式。
var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
	"Monday, January 2, 2006",
	"Mon, January 2, 2006",
	"Monday, Jan 2, 2006",
	"Mon, Jan 2, 2006",
	"Mon Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
}

// Parse はテキストを日付に変換する。副作用はない。
// 空文字列または "available"（大文字小文字を区別しない）はnowを返す。
// どの規則でも解釈できない場合は (now, false) を返す。
func Parse(text string, now time.Time) (time.Time, bool) {
	if text == "" || strings.EqualFold(text, "available") {
		return now, true
	}

	cleaned := disallowedDateChars.ReplaceAllString(text, "")
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(cleaned)
		if m == nil {
			continue
		}

		var year, month, day int
		switch {
		case !p.hasYear:
			month, day = atoi(m[1]), atoi(m[2])
			year = now.Year()
		case p.yearFirst:
			year, month, day = atoi(m[1]), atoi(m[2]), atoi(m[3])
		default:
			month, day, year = atoi(m[1]), atoi(m[2]), atoi(m[3])
		}

		// 2桁以下の年は1900年代として扱う（0099 → 1999）。
		if year >= 0 && year <= 99 {
			year += 1900
		}

		// 範囲外の月日はtime.Dateが繰り上げる（02/30 → 03/02）。
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location()), true
	}

	trimmed := strings.TrimSpace(text)
	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, now.Location()); err == nil {
			return t, true
		}
	}

	return now, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// DateNormalizer は予約枠テキストを正規化日付に変換する。
// 解釈できなかった場合は警告ログとメトリクスを記録してnowを返す。
type DateNormalizer struct {
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewDateNormalizer はDateNormalizerを生成する。metricsはnilでもよい。
func NewDateNormalizer(logger *slog.Logger, m metrics.MetricsCollector) *DateNormalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DateNormalizer{logger: logger, metrics: m}
}

// Normalize はテキストを正規化日付に変換する。失敗してもエラーにはしない。
func (n *DateNormalizer) Normalize(text string, now time.Time) time.Time {
	t, ok := Parse(text, now)
	if !ok {
		n.logger.Warn("日付を解釈できないため現在時刻を使用します",
			slog.String("text", text),
		)
		if n.metrics != nil {
			n.metrics.RecordDateFallback()
		}
	}
	return t
}
