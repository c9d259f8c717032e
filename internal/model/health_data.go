package model

import (
	"time"

	"gorm.io/datatypes"
)

// SharingScope 是参与者授权的数据共享范围。
type SharingScope string

const (
	SharingScopeNoSharing               SharingScope = "NO_SHARING"
	SharingScopeSponsorsAndPartners     SharingScope = "SPONSORS_AND_PARTNERS"
	SharingScopeAllQualifiedResearchers SharingScope = "ALL_QUALIFIED_RESEARCHERS"
)

// HealthDataRecord 对应 health_data_records 表，是一次上传校验成功后的规范化记录。
// Data 中附件类型字段的值始终是附件 ID 字符串，不会内联附件内容。
type HealthDataRecord struct {
	ID                  string                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	HealthCode          string                      `gorm:"type:varchar(64);not null;index" json:"healthCode"`
	StudyID             string                      `gorm:"type:varchar(64);not null;index" json:"studyId"`
	UploadID            string                      `gorm:"type:varchar(64);index" json:"uploadId"`
	SchemaID            string                      `gorm:"type:varchar(128)" json:"schemaId"`
	SchemaRevision      int                         `json:"schemaRevision"`
	CreatedOn           int64                       `json:"createdOn"`
	CreatedOnTimeZone   string                      `gorm:"type:varchar(8)" json:"createdOnTimeZone,omitempty"`
	Data                datatypes.JSONMap           `gorm:"type:json" json:"data"`
	Metadata            datatypes.JSONMap           `gorm:"type:json" json:"metadata"`
	AppVersion          string                      `gorm:"type:varchar(255)" json:"appVersion,omitempty"`
	PhoneInfo           string                      `gorm:"type:varchar(255)" json:"phoneInfo,omitempty"`
	UserSharingScope    SharingScope                `gorm:"type:varchar(32)" json:"userSharingScope"`
	UserExternalID      string                      `gorm:"type:varchar(128)" json:"userExternalId,omitempty"`
	UserDataGroups      datatypes.JSONSlice[string] `gorm:"type:json" json:"userDataGroups,omitempty"`
	UploadDate          string                      `gorm:"type:varchar(10)" json:"uploadDate"`
	UploadedOn          int64                       `json:"uploadedOn"`
	ValidationErrors    string                      `gorm:"type:text" json:"validationErrors,omitempty"`
	RawDataAttachmentID string                      `gorm:"type:varchar(128)" json:"rawDataAttachmentId,omitempty"`
	Version             int64                       `gorm:"not null;default:0" json:"version"`
	UpdatedAt           time.Time                   `gorm:"autoUpdateTime" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (HealthDataRecord) TableName() string {
	return "health_data_records"
}

// Clone 返回记录的深拷贝，Data 与 Metadata 中的嵌套结构不会与原记录共享。
func (r *HealthDataRecord) Clone() *HealthDataRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = CopyJSONMap(r.Data)
	c.Metadata = CopyJSONMap(r.Metadata)
	if r.UserDataGroups != nil {
		c.UserDataGroups = append(datatypes.JSONSlice[string](nil), r.UserDataGroups...)
	}
	return &c
}

// HealthDataAttachment 对应 health_data_attachments 表，记录附件与所属记录的关系。
// 附件内容以 ID 为 key 存放在附件 bucket 中。流水线生成的附件 ID 是 UUID，
// FileHelper 写入的附件沿用对象 key {uploadId}-{字段名}，因此列宽按上传 ID 与字段名长度之和设置。
type HealthDataAttachment struct {
	ID         string    `gorm:"type:varchar(320);primaryKey" json:"id"`
	RecordID   string    `gorm:"type:varchar(36);not null;index" json:"recordId"`
	FieldName  string    `gorm:"type:varchar(255)" json:"fieldName"`
	UploadDate string    `gorm:"type:varchar(10)" json:"uploadDate"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (HealthDataAttachment) TableName() string {
	return "health_data_attachments"
}

// CopyJSONMap 递归复制由 encoding/json 解码得到的对象。
func CopyJSONMap(m map[string]interface{}) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = CopyJSONValue(v)
	}
	return out
}

// CopyJSONValue 递归复制任意 JSON 值，标量原样返回。
func CopyJSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case datatypes.JSONMap:
		return CopyJSONMap(t)
	case map[string]interface{}:
		return map[string]interface{}(CopyJSONMap(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = CopyJSONValue(e)
		}
		return out
	default:
		return v
	}
}
