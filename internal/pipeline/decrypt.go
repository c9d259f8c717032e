package pipeline

import (
	"context"
	"upload-validator-go/pkg/log"
)

// Decryptor 使用研究项目的密钥解密上传包，*cryptox.StudyDecryptor 实现了该接口。
type Decryptor interface {
	Decrypt(studyID string, data []byte) ([]byte, error)
}

// DecryptHandler 解密下载得到的上传包。
type DecryptHandler struct {
	decryptor Decryptor
}

// NewDecryptHandler 创建一个新的 DecryptHandler 实例。
func NewDecryptHandler(decryptor Decryptor) *DecryptHandler {
	return &DecryptHandler{decryptor: decryptor}
}

// Handle 实现 Handler 接口。密文无法解密说明客户端上传的数据有误，按校验失败处理。
func (h *DecryptHandler) Handle(_ context.Context, vctx *Context) error {
	plain, err := h.decryptor.Decrypt(vctx.StudyID, vctx.RawData)
	if err != nil {
		log.Warnw("[Decrypt] decrypt failed", "uploadId", vctx.UploadID(), "studyId", vctx.StudyID, "error", err)
		return NewValidationError("upload %s could not be decrypted: %w", vctx.UploadID(), err)
	}
	vctx.DecryptedData = plain
	return nil
}
