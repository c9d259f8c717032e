// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// UploadStatus 表示一次上传在校验流水线中的状态。
type UploadStatus string

const (
	UploadStatusRequested            UploadStatus = "REQUESTED"
	UploadStatusValidationInProgress UploadStatus = "VALIDATION_IN_PROGRESS"
	UploadStatusSucceeded            UploadStatus = "SUCCEEDED"
	UploadStatusValidationFailed     UploadStatus = "VALIDATION_FAILED"
)

// UploadDateFormat 是 upload_date 列使用的日期格式。
const UploadDateFormat = "2006-01-02"

// Upload 定义了 uploads 表的 ORM 模型。
// 它记录了客户端上传的加密数据包在对象存储中的位置以及校验结果。
type Upload struct {
	ID            string       `gorm:"type:varchar(64);primaryKey" json:"uploadId"`
	StudyID       string       `gorm:"type:varchar(64);not null;index" json:"studyId"`
	HealthCode    string       `gorm:"type:varchar(64);not null;index" json:"healthCode"`
	ObjectKey     string       `gorm:"type:varchar(255);not null" json:"objectKey"`
	ContentLength int64        `gorm:"not null;default:0" json:"contentLength"`
	ContentMD5    string       `gorm:"type:varchar(32)" json:"contentMd5"`
	Status        UploadStatus `gorm:"type:varchar(32);not null;default:'REQUESTED'" json:"status"`
	// UploadDate 为上传当天的日期 (YYYY-MM-DD)，会被复制到生成的健康数据记录中。
	UploadDate         string                      `gorm:"type:varchar(10)" json:"uploadDate"`
	RequestedOn        time.Time                   `gorm:"autoCreateTime" json:"requestedOn"`
	CompletedOn        *time.Time                  `gorm:"default:null" json:"completedOn"`
	ValidationMessages datatypes.JSONSlice[string] `gorm:"type:json" json:"validationMessages"`
	RecordID           string                      `gorm:"type:varchar(36)" json:"recordId"`
	UpdatedAt          time.Time                   `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Upload) TableName() string {
	return "uploads"
}

// IsTerminal 判断上传是否已经写入终态。
func (u *Upload) IsTerminal() bool {
	return u.Status == UploadStatusSucceeded || u.Status == UploadStatusValidationFailed
}
