package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
)

var unsafeFieldChars = regexp.MustCompile(`[^A-Za-z0-9_.]`)

// SanitizeFieldName 将 [A-Za-z0-9_.] 以外的字符替换为 '_'，结果同时用作附件对象 key 的后缀。
func SanitizeFieldName(name string) string {
	return unsafeFieldChars.ReplaceAllString(name, "_")
}

// SchemaType 区分普通数据 schema 与问卷 schema。
type SchemaType string

const (
	SchemaTypeIOSData   SchemaType = "ios_data"
	SchemaTypeIOSSurvey SchemaType = "ios_survey"
)

// FieldType 是 schema 字段的声明类型。
type FieldType string

const (
	FieldTypeBoolean             FieldType = "boolean"
	FieldTypeInt                 FieldType = "int"
	FieldTypeFloat               FieldType = "float"
	FieldTypeString              FieldType = "string"
	FieldTypeCalendarDate        FieldType = "calendar_date"
	FieldTypeTimeV2              FieldType = "time_v2"
	FieldTypeTimestamp           FieldType = "timestamp"
	FieldTypeDurationV2          FieldType = "duration_v2"
	FieldTypeInlineJSONBlob      FieldType = "inline_json_blob"
	FieldTypeAttachmentBlob      FieldType = "attachment_blob"
	FieldTypeAttachmentJSONTable FieldType = "attachment_json_table"
	FieldTypeAttachmentV2        FieldType = "attachment_v2"
	// 旧版客户端遗留的附件类型，按附件处理。
	FieldTypeAttachmentJSONBlob FieldType = "attachment_json_blob"
	FieldTypeAttachmentCSV      FieldType = "attachment_csv"
)

var attachmentTypes = map[FieldType]bool{
	FieldTypeAttachmentBlob:      true,
	FieldTypeAttachmentJSONTable: true,
	FieldTypeAttachmentV2:        true,
	FieldTypeAttachmentJSONBlob:  true,
	FieldTypeAttachmentCSV:       true,
}

var scalarTypes = map[FieldType]bool{
	FieldTypeBoolean:        true,
	FieldTypeInt:            true,
	FieldTypeFloat:          true,
	FieldTypeString:         true,
	FieldTypeCalendarDate:   true,
	FieldTypeTimeV2:         true,
	FieldTypeTimestamp:      true,
	FieldTypeDurationV2:     true,
	FieldTypeInlineJSONBlob: true,
}

// IsAttachment 判断字段值是否需要写入对象存储。
func (t FieldType) IsAttachment() bool {
	return attachmentTypes[t]
}

// IsValid 判断是否为已知的字段类型。
func (t FieldType) IsValid() bool {
	return attachmentTypes[t] || scalarTypes[t]
}

// FieldDefinition 描述 schema 中的一个字段。
type FieldDefinition struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	// 客户端 app 版本适用区间，闭区间，nil 表示该侧无界。
	MinAppVersion *int   `json:"minAppVersion,omitempty" yaml:"min_app_version,omitempty"`
	MaxAppVersion *int   `json:"maxAppVersion,omitempty" yaml:"max_app_version,omitempty"`
	FileExtension string `json:"fileExtension,omitempty" yaml:"file_extension,omitempty"`
	MimeType      string `json:"mimeType,omitempty" yaml:"mime_type,omitempty"`
}

// UploadSchema 对应 upload_schemas 表。(study_id, schema_id, revision) 唯一确定一个 schema，发布后不可修改。
type UploadSchema struct {
	ID               uint                                 `gorm:"primaryKey;autoIncrement" json:"-"`
	StudyID          string                               `gorm:"type:varchar(64);not null;uniqueIndex:idx_schema_identity" json:"studyId" yaml:"study_id"`
	SchemaID         string                               `gorm:"type:varchar(128);not null;uniqueIndex:idx_schema_identity" json:"schemaId" yaml:"schema_id"`
	Revision         int                                  `gorm:"not null;uniqueIndex:idx_schema_identity" json:"revision" yaml:"revision"`
	Name             string                               `gorm:"type:varchar(255)" json:"name" yaml:"name"`
	SchemaType       SchemaType                           `gorm:"type:varchar(32);not null" json:"schemaType" yaml:"schema_type"`
	SurveyGUID       string                               `gorm:"type:varchar(64);index:idx_schema_survey" json:"surveyGuid,omitempty" yaml:"survey_guid,omitempty"`
	SurveyCreatedOn  int64                                `gorm:"index:idx_schema_survey" json:"surveyCreatedOn,omitempty" yaml:"survey_created_on,omitempty"`
	FieldDefinitions datatypes.JSONSlice[FieldDefinition] `gorm:"type:json" json:"fieldDefinitions" yaml:"field_definitions"`
	CreatedAt        time.Time                            `gorm:"autoCreateTime" json:"createdAt" yaml:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UploadSchema) TableName() string {
	return "upload_schemas"
}

// Key 返回用于日志和去重的 schema 标识。
func (s *UploadSchema) Key() string {
	return fmt.Sprintf("%s-%s-v%d", s.StudyID, s.SchemaID, s.Revision)
}

// Field 按名称查找字段定义。
func (s *UploadSchema) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.FieldDefinitions {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// Validate 校验 schema 的字段定义列表，返回所有问题的合并错误。
func (s *UploadSchema) Validate() error {
	var errs []error
	if strings.TrimSpace(s.StudyID) == "" {
		errs = append(errs, errors.New("studyId must be specified"))
	}
	if strings.TrimSpace(s.SchemaID) == "" {
		errs = append(errs, errors.New("schemaId must be specified"))
	}
	if s.Revision < 1 {
		errs = append(errs, fmt.Errorf("revision must be positive, got %d", s.Revision))
	}
	if s.SchemaType != SchemaTypeIOSData && s.SchemaType != SchemaTypeIOSSurvey {
		errs = append(errs, fmt.Errorf("unknown schemaType %q", s.SchemaType))
	}

	seen := make(map[string]bool, len(s.FieldDefinitions))
	var dupes []string
	for i, f := range s.FieldDefinitions {
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, fmt.Errorf("fieldDefinitions[%d].name must be specified", i))
			continue
		}
		if !f.Type.IsValid() {
			errs = append(errs, fmt.Errorf("fieldDefinitions[%d].type %q is not a valid field type", i, f.Type))
		}
		if f.MinAppVersion != nil && f.MaxAppVersion != nil && *f.MinAppVersion > *f.MaxAppVersion {
			errs = append(errs, fmt.Errorf("fieldDefinitions[%d].minAppVersion can't be greater than maxAppVersion", i))
		}
		if !f.Type.IsAttachment() && (f.FileExtension != "" || f.MimeType != "") {
			errs = append(errs, fmt.Errorf("fieldDefinitions[%d] fileExtension and mimeType are only valid for attachment types", i))
		}
		// 净化后相同的两个字段会写到同一个附件 key
		sanitized := SanitizeFieldName(f.Name)
		if seen[sanitized] {
			dupes = append(dupes, f.Name)
		}
		seen[sanitized] = true
	}
	if len(dupes) > 0 {
		errs = append(errs, fmt.Errorf("conflict in field names or sub-field names: %s", strings.Join(dupes, ", ")))
	}
	return errors.Join(errs...)
}
