package pipeline

import (
	"context"
	"fmt"
	"upload-validator-go/pkg/log"
	"upload-validator-go/pkg/storage"
)

// DownloadHandler 从上传 bucket 读取加密的上传包。
type DownloadHandler struct {
	store  storage.ObjectStore
	bucket string
}

// NewDownloadHandler 创建一个新的 DownloadHandler 实例。
func NewDownloadHandler(store storage.ObjectStore, uploadBucket string) *DownloadHandler {
	return &DownloadHandler{store: store, bucket: uploadBucket}
}

// Handle 实现 Handler 接口。读取失败属于意外错误，内容为空则是上传本身的问题。
func (h *DownloadHandler) Handle(ctx context.Context, vctx *Context) error {
	objectKey := vctx.Upload.ObjectKey
	if objectKey == "" {
		objectKey = vctx.UploadID()
	}
	log.Infof("[Download] 从对象存储下载上传包, Bucket: %s, Object: %s", h.bucket, objectKey)

	data, err := h.store.Read(ctx, h.bucket, objectKey)
	if err != nil {
		return fmt.Errorf("下载上传包 %s 失败: %w", objectKey, err)
	}
	if len(data) == 0 {
		return NewValidationError("upload %s is empty", vctx.UploadID())
	}
	vctx.RawData = data
	log.Infof("[Download] 下载完成, UploadID: %s, Size: %d", vctx.UploadID(), len(data))
	return nil
}
