package repository

import (
	"context"
	"errors"
	"upload-validator-go/internal/model"

	"gorm.io/gorm"
)

// ErrParticipantNotFound 表示该 healthCode 在研究项目中没有参与者记录。
var ErrParticipantNotFound = errors.New("participant not found")

// ParticipantRepository 提供参与者同意信息的只读查询。
type ParticipantRepository interface {
	GetParticipant(ctx context.Context, studyID, healthCode string) (*model.Participant, error)
}

type participantRepository struct {
	db *gorm.DB
}

// NewParticipantRepository 创建一个新的 ParticipantRepository 实例。
func NewParticipantRepository(db *gorm.DB) ParticipantRepository {
	return &participantRepository{db: db}
}

// GetParticipant 根据研究项目与 healthCode 查找参与者。
func (r *participantRepository) GetParticipant(ctx context.Context, studyID, healthCode string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.WithContext(ctx).Where("study_id = ? AND health_code = ?", studyID, healthCode).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}
