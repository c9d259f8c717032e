package pipeline

import (
	"context"
	"fmt"
	"upload-validator-go/internal/model"
	"upload-validator-go/pkg/log"
	"upload-validator-go/pkg/storage"
)

// RecordStore 持久化健康数据记录与附件，repository.HealthDataRepository 实现了该接口。
type RecordStore interface {
	CreateOrUpdateRecord(ctx context.Context, record *model.HealthDataRecord) (string, error)
	CreateOrUpdateAttachment(ctx context.Context, attachment *model.HealthDataAttachment) (string, error)
	GetRecordByID(ctx context.Context, id string) (*model.HealthDataRecord, error)
}

// UploadArtifactsHandler 分两阶段写入记录：先保存不含附件的记录以取得记录 ID，
// 再写入附件并把附件 ID 合并回记录的 data 中重新保存。
type UploadArtifactsHandler struct {
	records RecordStore
	store   storage.ObjectStore
	bucket  string
}

// NewUploadArtifactsHandler 创建一个新的 UploadArtifactsHandler 实例。
func NewUploadArtifactsHandler(records RecordStore, store storage.ObjectStore, attachmentBucket string) *UploadArtifactsHandler {
	return &UploadArtifactsHandler{records: records, store: store, bucket: attachmentBucket}
}

// Handle 实现 Handler 接口。任何写入失败都会中止流水线，已写入的对象不会回滚。
func (h *UploadArtifactsHandler) Handle(ctx context.Context, vctx *Context) error {
	uploadID := vctx.UploadID()

	// 阶段1: 保存记录，取得记录 ID
	recordID, err := h.records.CreateOrUpdateRecord(ctx, vctx.Record)
	if err != nil {
		return fmt.Errorf("保存健康数据记录失败, UploadID: %s: %w", uploadID, err)
	}
	vctx.RecordID = recordID
	log.Infof("[Artifacts] 记录已保存, UploadID: %s, RecordID: %s", uploadID, recordID)

	// 阶段2: 写入附件
	attachmentIDs := map[string]string{}
	for _, fieldName := range sortedKeys(vctx.Attachments) {
		attachment := &model.HealthDataAttachment{
			RecordID:   recordID,
			FieldName:  fieldName,
			UploadDate: vctx.Record.UploadDate,
		}
		attachmentID, err := h.records.CreateOrUpdateAttachment(ctx, attachment)
		if err != nil {
			return fmt.Errorf("保存附件 %s 失败: %w", fieldName, err)
		}
		if err := h.store.Write(ctx, h.bucket, attachmentID, vctx.Attachments[fieldName]); err != nil {
			return fmt.Errorf("写入附件 %s 到对象存储失败: %w", fieldName, err)
		}
		attachmentIDs[fieldName] = attachmentID
	}
	// FileHelper 已写入对象存储的附件只需登记，附件 ID 即对象 key。
	for _, fieldName := range sortedKeys(vctx.WrittenAttachments) {
		attachment := &model.HealthDataAttachment{
			ID:         vctx.WrittenAttachments[fieldName],
			RecordID:   recordID,
			FieldName:  fieldName,
			UploadDate: vctx.Record.UploadDate,
		}
		attachmentID, err := h.records.CreateOrUpdateAttachment(ctx, attachment)
		if err != nil {
			return fmt.Errorf("保存附件 %s 失败: %w", fieldName, err)
		}
		attachmentIDs[fieldName] = attachmentID
	}
	if len(attachmentIDs) == 0 {
		return nil
	}

	// 阶段3: 合并附件 ID 并再次保存
	record, err := h.records.GetRecordByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("读取健康数据记录 %s 失败: %w", recordID, err)
	}
	if record.Data == nil {
		record.Data = map[string]interface{}{}
	}
	for fieldName, attachmentID := range attachmentIDs {
		record.Data[fieldName] = attachmentID
	}
	if _, err := h.records.CreateOrUpdateRecord(ctx, record); err != nil {
		return fmt.Errorf("更新健康数据记录 %s 失败: %w", recordID, err)
	}
	vctx.Record = record
	log.Infof("[Artifacts] 附件已写入, UploadID: %s, RecordID: %s, Attachments: %d", uploadID, recordID, len(attachmentIDs))
	return nil
}
