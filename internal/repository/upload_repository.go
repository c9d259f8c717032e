// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
	"upload-validator-go/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrUploadNotFound 表示指定的上传不存在。
	ErrUploadNotFound = errors.New("upload not found")
	// ErrUploadExists 表示同一上传 ID 已经登记过。
	ErrUploadExists = errors.New("upload already exists")
)

// UploadRepository 接口定义了上传记录相关的数据持久化操作。
type UploadRepository interface {
	Create(ctx context.Context, upload *model.Upload) error
	GetUpload(ctx context.Context, uploadID string) (*model.Upload, error)
	MarkValidationInProgress(ctx context.Context, uploadID string) error
	WriteValidationStatus(ctx context.Context, upload *model.Upload, status model.UploadStatus, messages []string, recordID string) error
}

// uploadRepository 是 UploadRepository 接口的 GORM 实现。
type uploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository 创建一个新的 UploadRepository 实例。
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

// Create 在数据库中创建一条上传记录。需要以 TranslateError 打开 gorm 才能识别主键冲突。
func (r *uploadRepository) Create(ctx context.Context, upload *model.Upload) error {
	err := r.db.WithContext(ctx).Create(upload).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUploadExists
	}
	return err
}

// GetUpload 根据上传 ID 检索上传记录。
func (r *uploadRepository) GetUpload(ctx context.Context, uploadID string) (*model.Upload, error) {
	var upload model.Upload
	err := r.db.WithContext(ctx).Where("id = ?", uploadID).First(&upload).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUploadNotFound
		}
		return nil, err
	}
	return &upload, nil
}

// MarkValidationInProgress 将上传置为校验中，并清空上一次校验留下的消息与记录 ID。
func (r *uploadRepository) MarkValidationInProgress(ctx context.Context, uploadID string) error {
	res := r.db.WithContext(ctx).Model(&model.Upload{}).Where("id = ?", uploadID).Updates(map[string]interface{}{
		"status":              model.UploadStatusValidationInProgress,
		"validation_messages": datatypes.NewJSONSlice([]string{}),
		"record_id":           "",
		"completed_on":        nil,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUploadNotFound
	}
	return nil
}

// WriteValidationStatus 写入校验终态、全部校验消息以及（如有）生成的记录 ID。
func (r *uploadRepository) WriteValidationStatus(ctx context.Context, upload *model.Upload, status model.UploadStatus, messages []string, recordID string) error {
	if messages == nil {
		messages = []string{}
	}
	updates := map[string]interface{}{
		"status":              status,
		"validation_messages": datatypes.NewJSONSlice(messages),
		"record_id":           recordID,
	}
	var completedOn *time.Time
	if status != model.UploadStatusValidationInProgress {
		now := time.Now()
		completedOn = &now
		updates["completed_on"] = now
	}

	res := r.db.WithContext(ctx).Model(&model.Upload{}).Where("id = ?", upload.ID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("写入上传 %s 校验状态失败: %w", upload.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUploadNotFound
	}

	upload.Status = status
	upload.ValidationMessages = datatypes.NewJSONSlice(messages)
	upload.RecordID = recordID
	upload.CompletedOn = completedOn
	return nil
}
