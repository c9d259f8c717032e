package pipeline

import (
	"context"
	"strings"
	"upload-validator-go/internal/config"
	"upload-validator-go/pkg/log"
)

// ParseJSONHandler 解析上传包中的 JSON 文件与 info.json 清单。
type ParseJSONHandler struct {
	maxBytes int64
}

// NewParseJSONHandler 创建一个新的 ParseJSONHandler 实例。
func NewParseJSONHandler(cfg config.UploadConfig) *ParseJSONHandler {
	return &ParseJSONHandler{maxBytes: cfg.ParsedJSONMaxBytes}
}

// Handle 实现 Handler 接口。info.json 缺失或不合法时上传失败；其他文件无法解析时保留原始字节，
// 由字段提取步骤决定如何使用。
func (h *ParseJSONHandler) Handle(_ context.Context, vctx *Context) error {
	raw, ok := vctx.UnzippedFiles[ManifestFilename]
	if !ok {
		return NewValidationError("upload %s does not contain %s", vctx.UploadID(), ManifestFilename)
	}
	manifest, err := ParseManifest(raw)
	if err != nil {
		return err
	}
	vctx.Manifest = manifest
	vctx.AppVersion = ParseAppVersion(manifest.AppVersion())

	jsonFiles := make(map[string]interface{}, len(vctx.UnzippedFiles))
	for name, data := range vctx.UnzippedFiles {
		if !strings.HasSuffix(strings.ToLower(name), ".json") {
			continue
		}
		if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
			log.Warnw("[ParseJSON] skip large file", "uploadId", vctx.UploadID(), "file", name, "size", len(data))
			continue
		}
		if v, ok := decodeJSONValue(data); ok {
			jsonFiles[name] = v
		}
	}
	vctx.JSONFiles = jsonFiles
	log.Infof("[ParseJSON] 解析完成, UploadID: %s, JSONFiles: %d, AppVersion: %v", vctx.UploadID(), len(jsonFiles), manifest.AppVersion())
	return nil
}
