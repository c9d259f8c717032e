package service

import (
	"strings"
	"upload-validator-go/internal/config"
	"upload-validator-go/internal/model"
)

// StudyConfigProvider 提供研究项目的校验配置。
type StudyConfigProvider interface {
	GetStudyConfig(studyID string) model.StudySettings
}

type configStudyProvider struct {
	studies map[string]config.StudyConfig
}

// NewConfigStudyProvider 基于配置文件 studies 段创建 StudyConfigProvider。
// viper 会将 map 的 key 转为小写，查找时同样使用小写。
func NewConfigStudyProvider(studies map[string]config.StudyConfig) StudyConfigProvider {
	normalized := make(map[string]config.StudyConfig, len(studies))
	for id, sc := range studies {
		normalized[strings.ToLower(id)] = sc
	}
	return &configStudyProvider{studies: normalized}
}

// GetStudyConfig 未配置的研究项目使用零值，即 WARNING 级别、无默认 revision。
func (p *configStudyProvider) GetStudyConfig(studyID string) model.StudySettings {
	sc := p.studies[strings.ToLower(studyID)]
	return model.StudySettings{
		StudyID:                       studyID,
		UploadValidationStrictness:    model.Strictness(strings.ToUpper(strings.TrimSpace(sc.UploadValidationStrictness))),
		StrictUploadValidationEnabled: sc.StrictUploadValidationEnabled,
		DefaultSchemaRevisions:        sc.DefaultSchemaRevisions,
	}
}
