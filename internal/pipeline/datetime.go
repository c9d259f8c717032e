package pipeline

import (
	"encoding/json"
	"strings"
	"time"
)

// 上传中出现的时间戳格式，按顺序尝试。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
}

const (
	timestampOutputLayout = "2006-01-02T15:04:05.000Z07:00"
	calendarDateLayout    = "2006-01-02"
	timeZoneOffsetLayout  = "-07:00"
)

// ParseTimestamp 解析 ISO 8601 时间戳。
// 部分 iOS 客户端上报 "2015-04-02 13:01:56 -0700" 这种非标准格式，会先修正为 ISO 8601 再解析。
// 不带时区的时间按 UTC 处理。
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if len(s) > 10 && s[10] == ' ' {
		s = strings.Join(strings.Fields(s[:10]+"T"+s[11:]), "")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseTimestampValue 解析 JSON 值中的时间戳，数字视为 epoch 毫秒。
func parseTimestampValue(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		return ParseTimestamp(t)
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return time.Time{}, false
			}
			ms = int64(f)
		}
		return time.UnixMilli(ms).UTC(), true
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}

// timeZoneOffset 返回 "+hh:mm" 形式的时区偏移。
func timeZoneOffset(t time.Time) string {
	return t.Format(timeZoneOffsetLayout)
}

// nowFunc 便于测试固定当前时间。
var nowFunc = time.Now
