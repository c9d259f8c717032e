package pipeline

import (
	"context"
	"fmt"
	"upload-validator-go/pkg/log"
)

// DedupeStore 查询与登记上传内容键，repository.DedupeRepository 实现了该接口。
type DedupeStore interface {
	IsDuplicate(ctx context.Context, createdOn int64, healthCode, schemaKey string) (bool, error)
	Register(ctx context.Context, createdOn int64, healthCode, schemaKey, uploadID string) error
}

// DedupeHandler 检测同一参与者对同一 schema、同一 createdOn 的重复上传。
// 该检查只做观察：发现重复或存储出错时记录消息，从不使上传失败。
type DedupeHandler struct {
	store DedupeStore
}

// NewDedupeHandler 创建一个新的 DedupeHandler 实例。
func NewDedupeHandler(store DedupeStore) *DedupeHandler {
	return &DedupeHandler{store: store}
}

// Handle 实现 Handler 接口，始终返回 nil。
func (h *DedupeHandler) Handle(ctx context.Context, vctx *Context) error {
	uploadID := vctx.UploadID()
	createdOn, schemaKey, ok := dedupeKey(vctx)
	if !ok {
		vctx.AddMessagef("upload ID %s has no createdOn or schema reference; duplicate check skipped", uploadID)
		return nil
	}
	healthCode := vctx.Upload.HealthCode

	dup, err := h.store.IsDuplicate(ctx, createdOn, healthCode, schemaKey)
	if err != nil {
		log.Warnw("[Dedupe] dedupe lookup failed", "uploadId", uploadID, "error", err)
		vctx.AddMessagef("Error checking upload %s for duplicates: %v", uploadID, err)
		return nil
	}
	if dup {
		log.Infow("[Dedupe] duplicate upload detected", "uploadId", uploadID, "schemaKey", schemaKey, "createdOn", createdOn)
		vctx.AddMessagef("upload ID %s is a duplicate of an earlier upload (schema %s, createdOn %d)", uploadID, schemaKey, createdOn)
		return nil
	}
	if err := h.store.Register(ctx, createdOn, healthCode, schemaKey, uploadID); err != nil {
		log.Warnw("[Dedupe] dedupe register failed", "uploadId", uploadID, "error", err)
		vctx.AddMessagef("Error registering upload %s for duplicate detection: %v", uploadID, err)
	}
	return nil
}

// dedupeKey 从 info.json 计算内容键：问卷为 "survey:<guid>:<surveyCreatedOn>"，其他为 "<item>:v<revision>"。
func dedupeKey(vctx *Context) (int64, string, bool) {
	m := vctx.Manifest
	if m == nil {
		return 0, "", false
	}
	ts, ok := ParseTimestamp(m.CreatedOn())
	if !ok {
		return 0, "", false
	}
	if guid, surveyCreatedOn := m.SurveyGUID(), m.SurveyCreatedOn(); guid != "" && surveyCreatedOn != "" {
		return ts.UnixMilli(), fmt.Sprintf("survey:%s:%s", guid, surveyCreatedOn), true
	}
	item := m.Item()
	if item == "" {
		item = m.Identifier()
	}
	if item == "" {
		return 0, "", false
	}
	revision, ok := m.SchemaRevision()
	if !ok {
		revision = 1
		if rev, found := vctx.Study.DefaultRevision(item); found {
			revision = rev
		}
	}
	return ts.UnixMilli(), fmt.Sprintf("%s:v%d", item, revision), true
}
