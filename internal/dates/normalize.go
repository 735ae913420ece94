// Package dates 把表格里各种编码的日期统一成日历日期（yyyy-MM-dd）。
//
// 尝试顺序：已结构化的时间值 -> 表格序列号（day 0 = 1899-12-30）-> ISO 8601
// -> 本地格式列表 -> 通用格式兜底。第一个成功的解析胜出；全部失败返回 false，从不 panic。
package dates

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// CanonicalLayout 内部规范格式
	CanonicalLayout = "2006-01-02"
	// DisplayLayout 通知/变更记录中的展示格式
	DisplayLayout = "02-01-2006"
)

// serialEpoch 表格日期序列号的 0 日。沿用 1899-12-30 的约定（含 1900 闰年偏移），
// 与已存储数据保持一致。
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// 5 位数字文本按序列号处理（1927..2173 年）
var serialText = regexp.MustCompile(`^\d{5}(\.\d+)?$`)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// localeLayouts 顺序即优先级：yyyy.MM.dd, dd.MM.yyyy, dd-MM-yyyy, yyyy-MM-dd, MM/dd/yyyy, M/d/yyyy, dd/MM/yy
var localeLayouts = []string{
	"2006.01.02",
	"02.01.2006",
	"02-01-2006",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"02/01/06",
}

// fallbackLayouts 通用兜底
var fallbackLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
	time.UnixDate,
	"Mon Jan 2 2006",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2.1.2006",
	"2-1-2006",
}

// Normalize 解析 v，返回 UTC 零点的日历日期
func Normalize(v any) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if val.IsZero() {
			return time.Time{}, false
		}
		return dateOf(val), true
	case *time.Time:
		if val == nil || val.IsZero() {
			return time.Time{}, false
		}
		return dateOf(*val), true
	case float64:
		return fromSerial(val)
	case float32:
		return fromSerial(float64(val))
	case int:
		return fromSerial(float64(val))
	case int64:
		return fromSerial(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromSerial(f)
	case string:
		return parseString(val)
	default:
		return time.Time{}, false
	}
}

// Canonical 解析并格式化为 yyyy-MM-dd
func Canonical(v any) (string, bool) {
	t, ok := Normalize(v)
	if !ok {
		return "", false
	}
	return t.Format(CanonicalLayout), true
}

// Format yyyy-MM-dd
func Format(t time.Time) string {
	return t.Format(CanonicalLayout)
}

// Display dd-MM-yyyy
func Display(t time.Time) string {
	return t.Format(DisplayLayout)
}

// Today 当前日历日（UTC）
func Today(now time.Time) time.Time {
	return dateOf(now.UTC())
}

func parseString(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if serialText.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromSerial(f)
		}
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOf(t), true
		}
	}
	for _, layout := range localeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOf(t), true
		}
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOf(t), true
		}
	}
	return time.Time{}, false
}

func fromSerial(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, false
	}
	// 小数部分是当天时间，丢弃
	days := int(math.Floor(f))
	// 9999-12-31
	if days > 2958465 {
		return time.Time{}, false
	}
	return serialEpoch.AddDate(0, 0, days), true
}

// dateOf 取 t 在其自身时区下的日历日
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
