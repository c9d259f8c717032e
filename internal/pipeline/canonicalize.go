package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"upload-validator-go/internal/model"
)

// ISO 8601 duration，例如 "P1DT2H"、"PT30M"、"P2W"。
var durationPattern = regexp.MustCompile(`^P(\d+Y)?(\d+M)?(\d+W)?(\d+D)?(T(\d+H)?(\d+M)?(\d+(\.\d+)?S)?)?$`)

var timeLayouts = []string{"15:04:05.000", "15:04:05", "15:04"}

const timeOutputLayout = "15:04:05.000"

// Canonicalize 校验字段值是否符合声明类型并返回规范化后的值。
// 数值类型接受数字与数字字符串；日期时间类型统一为固定格式；JSON 与附件类型不做检查。
func Canonicalize(value interface{}, fieldType model.FieldType) (interface{}, error) {
	if value == nil {
		return nil, fmt.Errorf("value is null")
	}
	switch fieldType {
	case model.FieldTypeBoolean:
		return canonicalizeBoolean(value)
	case model.FieldTypeInt:
		return canonicalizeInt(value)
	case model.FieldTypeFloat:
		return canonicalizeFloat(value)
	case model.FieldTypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	case model.FieldTypeCalendarDate:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected calendar date string, got %s", jsonKind(value))
		}
		if len(s) > 10 {
			s = s[:10]
		}
		if _, err := time.Parse(calendarDateLayout, s); err != nil {
			return nil, fmt.Errorf("invalid calendar date %q", s)
		}
		return s, nil
	case model.FieldTypeTimeV2:
		return canonicalizeTime(value)
	case model.FieldTypeTimestamp:
		t, ok := parseTimestampValue(value)
		if !ok {
			return nil, fmt.Errorf("invalid timestamp %v", value)
		}
		return t.Format(timestampOutputLayout), nil
	case model.FieldTypeDurationV2:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected duration string, got %s", jsonKind(value))
		}
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "P" || strings.HasSuffix(s, "T") || !durationPattern.MatchString(s) {
			return nil, fmt.Errorf("invalid duration %q", s)
		}
		return s, nil
	}
	if fieldType.IsValid() {
		return value, nil
	}
	return nil, fmt.Errorf("unknown field type %s", fieldType)
}

func canonicalizeBoolean(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %s", v)
		}
		return n != 0, nil
	case float64:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", v)
	}
	return nil, fmt.Errorf("expected boolean, got %s", jsonKind(value))
}

func canonicalizeInt(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case json.Number:
		return numberToInt(string(v))
	case float64:
		return truncateFloat(v)
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return numberToInt(strings.TrimSpace(v))
	}
	return nil, fmt.Errorf("expected int, got %s", jsonKind(value))
}

func numberToInt(s string) (interface{}, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid int %q", s)
	}
	return truncateFloat(f)
}

func truncateFloat(f float64) (interface{}, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= 1<<63 || f < math.MinInt64 {
		return nil, fmt.Errorf("int out of range: %v", f)
	}
	return int64(f), nil
}

func canonicalizeFloat(value interface{}) (interface{}, error) {
	var s string
	switch v := value.(type) {
	case json.Number:
		s = string(v)
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		s = strings.TrimSpace(v)
	default:
		return nil, fmt.Errorf("expected float, got %s", jsonKind(value))
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("invalid float %q", s)
	}
	return f, nil
}

// canonicalizeTime 接受 HH:mm[:ss[.SSS]]，也接受完整时间戳并取其本地时间部分。
func canonicalizeTime(value interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected time string, got %s", jsonKind(value))
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(timeOutputLayout), nil
		}
	}
	if t, ok := ParseTimestamp(s); ok {
		return t.Format(timeOutputLayout), nil
	}
	return nil, fmt.Errorf("invalid time %q", s)
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case json.Number, float64, int64, int:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
