package pipeline

import (
	"context"
	"upload-validator-go/pkg/log"
)

// ContextComparator 比较生产步骤与候选步骤的结果，返回差异描述。
type ContextComparator interface {
	Compare(production, test *Context) []string
}

// ShadowHandler 在 Context 副本上运行候选步骤并与生产步骤的结果比较。
// 生产步骤的错误照常返回；候选步骤的错误和比较差异只写日志，不影响上传结果。
type ShadowHandler struct {
	production Handler
	test       Handler
	comparator ContextComparator
}

// NewShadowHandler 创建一个新的 ShadowHandler 实例。
func NewShadowHandler(production, test Handler, comparator ContextComparator) *ShadowHandler {
	return &ShadowHandler{production: production, test: test, comparator: comparator}
}

// Handle 实现 Handler 接口。
func (h *ShadowHandler) Handle(ctx context.Context, vctx *Context) error {
	testCtx := vctx.Clone()

	if err := h.production.Handle(ctx, vctx); err != nil {
		return err
	}

	uploadID := vctx.UploadID()
	if err := runHandler(ctx, h.test, testCtx); err != nil {
		log.Warnw("[Shadow] candidate handler failed",
			"uploadId", uploadID,
			"handler", handlerName(h.test),
			"error", err,
		)
		return nil
	}

	diffs := h.comparator.Compare(vctx, testCtx)
	if len(diffs) == 0 {
		log.Infof("[Shadow] 候选步骤与生产结果一致, UploadID: %s", uploadID)
		return nil
	}
	for _, d := range diffs {
		log.Warnw("[Shadow] candidate result differs", "uploadId", uploadID, "diff", d)
	}
	return nil
}
