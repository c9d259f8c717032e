package pipeline

import (
	"context"
	"fmt"
	"upload-validator-go/pkg/storage"
)

// RawDataSuffix 是原始上传包在附件 bucket 中的 key 后缀。
const RawDataSuffix = "-raw.zip"

// UploadRawZipHandler 将解密后的原始 zip 作为附件保存，并在记录上登记其 key。
type UploadRawZipHandler struct {
	records RecordStore
	store   storage.ObjectStore
	bucket  string
}

// NewUploadRawZipHandler 创建一个新的 UploadRawZipHandler 实例。
func NewUploadRawZipHandler(records RecordStore, store storage.ObjectStore, attachmentBucket string) *UploadRawZipHandler {
	return &UploadRawZipHandler{records: records, store: store, bucket: attachmentBucket}
}

// Handle 实现 Handler 接口，需要在 UploadArtifactsHandler 之后运行。
func (h *UploadRawZipHandler) Handle(ctx context.Context, vctx *Context) error {
	if vctx.RecordID == "" {
		return fmt.Errorf("upload %s has no record to attach raw data to", vctx.UploadID())
	}
	key := vctx.RecordID + RawDataSuffix
	if err := h.store.Write(ctx, h.bucket, key, vctx.DecryptedData); err != nil {
		return fmt.Errorf("写入原始上传包 %s 失败: %w", key, err)
	}
	vctx.Record.RawDataAttachmentID = key
	if _, err := h.records.CreateOrUpdateRecord(ctx, vctx.Record); err != nil {
		return fmt.Errorf("更新健康数据记录 %s 失败: %w", vctx.RecordID, err)
	}
	return nil
}
