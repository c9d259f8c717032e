package pipeline

import (
	"context"
	"errors"
	"upload-validator-go/internal/model"
	"upload-validator-go/internal/repository"
	"upload-validator-go/pkg/log"

	"gorm.io/datatypes"
)

// ParticipantGetter 查询参与者，找不到时返回 repository.ErrParticipantNotFound。
type ParticipantGetter interface {
	GetParticipant(ctx context.Context, studyID, healthCode string) (*model.Participant, error)
}

// TranscribeConsentHandler 将参与者的共享范围、外部 ID 与数据分组抄写到记录中。
type TranscribeConsentHandler struct {
	participants ParticipantGetter
}

// NewTranscribeConsentHandler 创建一个新的 TranscribeConsentHandler 实例。
func NewTranscribeConsentHandler(participants ParticipantGetter) *TranscribeConsentHandler {
	return &TranscribeConsentHandler{participants: participants}
}

// Handle 实现 Handler 接口。没有参与者记录时按 NO_SHARING 处理。
func (h *TranscribeConsentHandler) Handle(ctx context.Context, vctx *Context) error {
	record := vctx.Record
	p, err := h.participants.GetParticipant(ctx, vctx.StudyID, record.HealthCode)
	if errors.Is(err, repository.ErrParticipantNotFound) {
		log.Warnw("[TranscribeConsent] participant not found", "uploadId", vctx.UploadID(), "studyId", vctx.StudyID)
		record.UserSharingScope = model.SharingScopeNoSharing
		return nil
	}
	if err != nil {
		return err
	}

	record.UserSharingScope = p.SharingScope
	if record.UserSharingScope == "" {
		record.UserSharingScope = model.SharingScopeNoSharing
	}
	record.UserExternalID = p.ExternalID
	if len(p.DataGroups) > 0 {
		record.UserDataGroups = datatypes.NewJSONSlice(append([]string(nil), p.DataGroups...))
	}
	return nil
}
