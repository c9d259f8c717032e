package repository

import (
	"context"
	"errors"
	"upload-validator-go/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRecordNotFound 表示健康数据记录不存在。
var ErrRecordNotFound = errors.New("health data record not found")

// HealthDataRepository 接口定义了健康数据记录与附件的持久化操作。
// 记录与附件 ID 由仓储生成，重复保存同一 ID 视为更新。
type HealthDataRepository interface {
	CreateOrUpdateRecord(ctx context.Context, record *model.HealthDataRecord) (string, error)
	CreateOrUpdateAttachment(ctx context.Context, attachment *model.HealthDataAttachment) (string, error)
	GetRecordByID(ctx context.Context, id string) (*model.HealthDataRecord, error)
}

type healthDataRepository struct {
	db *gorm.DB
}

// NewHealthDataRepository 创建一个新的 HealthDataRepository 实例。
func NewHealthDataRepository(db *gorm.DB) HealthDataRepository {
	return &healthDataRepository{db: db}
}

// CreateOrUpdateRecord 保存记录并返回其 ID，新记录会分配 UUID。
func (r *healthDataRepository) CreateOrUpdateRecord(ctx context.Context, record *model.HealthDataRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
		if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
			record.ID = ""
			return "", err
		}
		return record.ID, nil
	}
	record.Version++
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return "", err
	}
	return record.ID, nil
}

// CreateOrUpdateAttachment 以 upsert 方式保存附件记录并返回其 ID。
func (r *healthDataRepository) CreateOrUpdateAttachment(ctx context.Context, attachment *model.HealthDataAttachment) (string, error) {
	if attachment.ID == "" {
		attachment.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(attachment).Error
	if err != nil {
		return "", err
	}
	return attachment.ID, nil
}

// GetRecordByID 根据 ID 检索记录。
func (r *healthDataRepository) GetRecordByID(ctx context.Context, id string) (*model.HealthDataRecord, error) {
	var record model.HealthDataRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}
