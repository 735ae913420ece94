package codec

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"smarthouse-data/internal/dates"
	"smarthouse-data/internal/sheets"

	"go.uber.org/zap"
)

// reader 逐列读取一行，解析失败记录解码告警
type reader struct {
	row    sheets.Row
	table  string
	id     string
	logger *zap.Logger
}

func newReader(row sheets.Row, table, idColumn string, logger *zap.Logger) *reader {
	return &reader{row: row, table: table, id: row.String(idColumn), logger: logger}
}

func (r *reader) warn(column, msg string, raw any) {
	r.logger.Warn("row decode warning",
		zap.String("table", r.table),
		zap.String("row_id", r.id),
		zap.String("column", column),
		zap.Any("raw", raw),
		zap.String("reason", msg),
	)
}

func (r *reader) present(column string) bool {
	return r.row.Has(column)
}

func (r *reader) text(column string) string {
	return r.row.String(column)
}

// date 单元格存在但无法解析时告警并返回 nil
func (r *reader) date(column string) *time.Time {
	raw, ok := r.row[column]
	if !ok || !r.present(column) {
		return nil
	}
	t, ok := dates.Normalize(raw)
	if !ok {
		r.warn(column, "unparseable date", raw)
		return nil
	}
	return &t
}

func (r *reader) boolean(column string, def bool) bool {
	if !r.present(column) {
		return def
	}
	raw := r.row[column]
	b, ok := parseBool(raw)
	if !ok {
		r.warn(column, "unparseable boolean", raw)
		return def
	}
	return b
}

func (r *reader) number(column string) *float64 {
	if !r.present(column) {
		return nil
	}
	raw := r.row[column]
	f, ok := parseNumber(raw)
	if !ok {
		r.warn(column, "unparseable number", raw)
		return nil
	}
	return &f
}

func (r *reader) integer(column string, def int) int {
	f := r.number(column)
	if f == nil {
		return def
	}
	return int(math.Round(*f))
}

// enum 白名单外的值解码为空
func (r *reader) enum(c Column) string {
	v := r.text(c.Name)
	if v == "" {
		return ""
	}
	if !c.Allows(v) {
		r.warn(c.Name, "value outside allow-list", v)
		return ""
	}
	return v
}

// list 单元格里的 JSON 文本解码到 dst；失败时 dst 保持为空
func (r *reader) list(column string, dst any) bool {
	raw, ok := r.row[column]
	if !ok || raw == nil {
		return false
	}
	if err := decodeList(raw, dst); err != nil {
		r.warn(column, "malformed list: "+err.Error(), raw)
		return false
	}
	return true
}

func (r *reader) timestamp(column string) time.Time {
	if !r.present(column) {
		return time.Time{}
	}
	raw := r.row[column]
	t, ok := parseTimestamp(raw)
	if !ok {
		r.warn(column, "unparseable timestamp", raw)
		return time.Time{}
	}
	return t
}

func parseBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "y", "tak", "t":
			return true, true
		case "false", "0", "no", "n", "nie", "f":
			return false, true
		}
	}
	return false, false
}

func parseNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, !math.IsNaN(val) && !math.IsInf(val, 0)
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(val)
		s = strings.ReplaceAll(s, " ", "")
		// 本地格式的小数逗号
		if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func parseTimestamp(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), !val.IsZero()
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	t, ok := dates.Normalize(v)
	return t, ok
}

// decodeList 接受 JSON 文本，或已是结构化值（来自 API 补丁）
func decodeList(raw any, dst any) error {
	var data []byte
	switch val := raw.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		data = []byte(s)
	case []byte:
		data = val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		data = b
	}
	return json.Unmarshal(data, dst)
}

// 编码：存储端只有文本

func encodeBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func encodeDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return dates.Format(*t)
}

func encodeFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func encodeNumber(f *float64) string {
	if f == nil {
		return ""
	}
	return encodeFloat(*f)
}

func encodeList(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}

func encodeTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Parses 非空值能否按列类型解析；文本类列总是 true
func Parses(c Column, v any) bool {
	text := sheets.Row{c.Name: v}.String(c.Name)
	if text == "" {
		return true
	}
	switch c.Kind {
	case Date:
		_, ok := dates.Normalize(v)
		return ok
	case Bool:
		_, ok := parseBool(v)
		return ok
	case Number, Int:
		_, ok := parseNumber(v)
		return ok
	case Enum:
		for _, e := range c.Enum {
			if strings.EqualFold(e, text) {
				return true
			}
		}
		return false
	}
	return true
}

// Display 变更记录使用的规范展示字符串：
// 日期 dd-MM-yyyy，列表紧凑 JSON，布尔 TRUE/FALSE，数字最短十进制，其余为去空白的字符串
func Display(c Column, v any) string {
	if v == nil {
		if c.Kind == List {
			return "[]"
		}
		return ""
	}
	text := sheets.Row{c.Name: v}.String(c.Name)
	switch c.Kind {
	case Date:
		if text == "" {
			return ""
		}
		if t, ok := dates.Normalize(v); ok {
			return dates.Display(t)
		}
	case Bool:
		if text == "" {
			return ""
		}
		if b, ok := parseBool(v); ok {
			return encodeBool(b)
		}
	case Number, Int:
		if text == "" {
			return ""
		}
		if f, ok := parseNumber(v); ok {
			return encodeFloat(f)
		}
	case List:
		var items any
		if err := decodeList(v, &items); err != nil {
			return text
		}
		return encodeList(items)
	case Timestamp:
		if t, ok := parseTimestamp(v); ok {
			return encodeTimestamp(t)
		}
	}
	return text
}
