package pipeline

import (
	"context"
	"upload-validator-go/internal/model"
	"upload-validator-go/pkg/log"
)

// StatusWriter 写入上传的校验终态。
type StatusWriter interface {
	WriteValidationStatus(ctx context.Context, upload *model.Upload, status model.UploadStatus, messages []string, recordID string) error
}

// Task 按顺序运行处理步骤，遇到第一个错误即停止，并且只写一次终态。
// 已经完成的副作用（例如写入对象存储的附件）不会回滚。
type Task struct {
	handlers     []Handler
	statusWriter StatusWriter
}

// NewTask 创建一个新的 Task 实例。
func NewTask(statusWriter StatusWriter, handlers ...Handler) *Task {
	return &Task{handlers: handlers, statusWriter: statusWriter}
}

// Run 运行整条流水线并返回写入的终态。终态写入失败只记录日志。
func (t *Task) Run(ctx context.Context, vctx *Context) model.UploadStatus {
	uploadID := vctx.UploadID()
	log.Infof("[Task] 开始校验上传, UploadID: %s, StudyID: %s, Strictness: %s", uploadID, vctx.StudyID, vctx.Strictness)

	for i, h := range t.handlers {
		err := runHandler(ctx, h, vctx)
		if err == nil {
			continue
		}
		vctx.Success = false
		if IsValidationError(err) {
			log.Infof("[Task] 步骤%d %s 校验失败, UploadID: %s, Reason: %v", i+1, handlerName(h), uploadID, err)
			vctx.AddMessage(err.Error())
		} else {
			log.Errorw("[Task] unexpected error validating upload",
				"uploadId", uploadID,
				"step", i+1,
				"handler", handlerName(h),
				"error", err,
			)
			vctx.AddMessagef("Unexpected error validating upload %s", uploadID)
		}
		break
	}

	status := model.UploadStatusSucceeded
	if !vctx.Success {
		status = model.UploadStatusValidationFailed
	}
	if err := t.statusWriter.WriteValidationStatus(ctx, vctx.Upload, status, vctx.Messages(), vctx.RecordID); err != nil {
		log.Errorw("[Task] failed to write validation status",
			"uploadId", uploadID,
			"status", status,
			"error", err,
		)
	}
	log.Infof("[Task] 上传校验结束, UploadID: %s, Status: %s, RecordID: %s, Messages: %d", uploadID, status, vctx.RecordID, len(vctx.Messages()))
	return status
}
