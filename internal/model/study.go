package model

import "strings"

// Strictness 决定 schema 校验失败时是否阻止记录写入。
type Strictness string

const (
	StrictnessStrict  Strictness = "STRICT"
	StrictnessReport  Strictness = "REPORT"
	StrictnessWarning Strictness = "WARNING"
)

// StudySettings 是流水线需要的单个研究项目配置。
type StudySettings struct {
	StudyID string
	// UploadValidationStrictness 为空表示未设置，此时回退到 StrictUploadValidationEnabled。
	UploadValidationStrictness    Strictness
	StrictUploadValidationEnabled bool
	DefaultSchemaRevisions        map[string]int
}

// ResolveStrictness 合并新旧两个配置项：显式枚举优先，否则 true→STRICT，false→WARNING。
func (s StudySettings) ResolveStrictness() Strictness {
	switch Strictness(strings.ToUpper(string(s.UploadValidationStrictness))) {
	case StrictnessStrict:
		return StrictnessStrict
	case StrictnessReport:
		return StrictnessReport
	case StrictnessWarning:
		return StrictnessWarning
	}
	if s.StrictUploadValidationEnabled {
		return StrictnessStrict
	}
	return StrictnessWarning
}

// DefaultRevision 返回 item 的默认 schema revision。配置文件中的 key 可能已被转为小写，因此按原样和小写各查一次。
func (s StudySettings) DefaultRevision(item string) (int, bool) {
	if rev, ok := s.DefaultSchemaRevisions[item]; ok && rev > 0 {
		return rev, true
	}
	if rev, ok := s.DefaultSchemaRevisions[strings.ToLower(item)]; ok && rev > 0 {
		return rev, true
	}
	return 0, false
}
