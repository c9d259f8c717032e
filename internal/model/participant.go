package model

import "gorm.io/datatypes"

// Participant 对应 participants 表，只包含写入健康数据记录时需要转录的同意信息。
type Participant struct {
	HealthCode   string                      `gorm:"type:varchar(64);primaryKey" json:"healthCode"`
	StudyID      string                      `gorm:"type:varchar(64);not null;index" json:"studyId"`
	ExternalID   string                      `gorm:"type:varchar(128)" json:"externalId"`
	SharingScope SharingScope                `gorm:"type:varchar(32);not null;default:'NO_SHARING'" json:"sharingScope"`
	DataGroups   datatypes.JSONSlice[string] `gorm:"type:json" json:"dataGroups"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Participant) TableName() string {
	return "participants"
}
