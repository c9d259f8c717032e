package pipeline

import (
	"context"
	"upload-validator-go/internal/model"

	"gorm.io/datatypes"
)

// InitRecordHandler 创建待填充的健康数据记录，metadata 取自 info.json。
type InitRecordHandler struct{}

// NewInitRecordHandler 创建一个新的 InitRecordHandler 实例。
func NewInitRecordHandler() *InitRecordHandler {
	return &InitRecordHandler{}
}

// Handle 实现 Handler 接口。
func (h *InitRecordHandler) Handle(_ context.Context, vctx *Context) error {
	if vctx.Manifest == nil {
		return NewValidationError("upload %s has no %s", vctx.UploadID(), ManifestFilename)
	}
	now := nowFunc()
	upload := vctx.Upload

	uploadDate := upload.UploadDate
	if uploadDate == "" {
		uploadDate = now.Format(model.UploadDateFormat)
	}
	uploadedOn := now.UnixMilli()
	if !upload.RequestedOn.IsZero() {
		uploadedOn = upload.RequestedOn.UnixMilli()
	}

	vctx.Record = &model.HealthDataRecord{
		HealthCode: upload.HealthCode,
		StudyID:    vctx.StudyID,
		UploadID:   upload.ID,
		Data:       datatypes.JSONMap{},
		Metadata:   model.CopyJSONMap(vctx.Manifest.Map()),
		AppVersion: vctx.Manifest.AppVersion(),
		PhoneInfo:  vctx.Manifest.PhoneInfo(),
		UploadDate: uploadDate,
		UploadedOn: uploadedOn,
	}
	return nil
}
