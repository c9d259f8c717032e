package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"upload-validator-go/internal/config"
	"upload-validator-go/pkg/log"
)

// UnzipHandler 解压上传包，限制条目数与解压后的总大小。
type UnzipHandler struct {
	maxEntries int
	maxBytes   int64
}

// NewUnzipHandler 创建一个新的 UnzipHandler 实例。
func NewUnzipHandler(cfg config.UploadConfig) *UnzipHandler {
	return &UnzipHandler{maxEntries: cfg.MaxZipEntries, maxBytes: cfg.MaxUnzippedBytes}
}

// Handle 实现 Handler 接口。文件以去掉目录后的文件名为 key。
func (h *UnzipHandler) Handle(_ context.Context, vctx *Context) error {
	files, err := h.unzip(vctx.DecryptedData)
	if err != nil {
		return NewValidationError("upload %s could not be unzipped: %w", vctx.UploadID(), err)
	}
	vctx.UnzippedFiles = files
	log.Infof("[Unzip] 解压完成, UploadID: %s, Files: %d", vctx.UploadID(), len(files))
	return nil
}

func (h *UnzipHandler) unzip(data []byte) (map[string][]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	if h.maxEntries > 0 && len(r.File) > h.maxEntries {
		return nil, fmt.Errorf("archive has %d entries, limit is %d", len(r.File), h.maxEntries)
	}

	files := make(map[string][]byte, len(r.File))
	var total int64
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(f.Name)
		if _, dup := files[name]; dup {
			return nil, fmt.Errorf("duplicate file %s", name)
		}
		content, err := h.readEntry(f, total)
		if err != nil {
			return nil, err
		}
		total += int64(len(content))
		files[name] = content
	}
	return files, nil
}

func (h *UnzipHandler) readEntry(f *zip.File, used int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	var reader io.Reader = rc
	if h.maxBytes > 0 {
		// 多读一个字节用于判断是否超限，不信任 zip 头中声明的大小。
		reader = io.LimitReader(rc, h.maxBytes-used+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if h.maxBytes > 0 && used+int64(len(content)) > h.maxBytes {
		return nil, fmt.Errorf("archive exceeds %d bytes when unzipped", h.maxBytes)
	}
	return content, nil
}
