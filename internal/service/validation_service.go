// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"upload-validator-go/internal/model"
	"upload-validator-go/internal/pipeline"
	"upload-validator-go/internal/repository"
	"upload-validator-go/pkg/log"
	"upload-validator-go/pkg/tasks"
)

// ValidationRunner 运行校验流水线并返回终态，*pipeline.Task 实现了该接口。
type ValidationRunner interface {
	Run(ctx context.Context, vctx *pipeline.Context) model.UploadStatus
}

// EnqueueFunc 将校验任务投递到消息队列。
type EnqueueFunc func(ctx context.Context, task tasks.UploadValidationTask) error

// RegisterUploadRequest 是客户端完成上传后的登记信息。
type RegisterUploadRequest struct {
	UploadID      string `json:"uploadId" binding:"required"`
	StudyID       string `json:"studyId" binding:"required"`
	HealthCode    string `json:"healthCode" binding:"required"`
	ObjectKey     string `json:"objectKey"`
	ContentLength int64  `json:"contentLength"`
	ContentMD5    string `json:"contentMd5"`
}

// ValidationService 接口定义了上传校验相关的业务操作。
type ValidationService interface {
	RegisterUpload(ctx context.Context, req RegisterUploadRequest) (*model.Upload, error)
	// Process 由 Kafka 消费者调用。返回错误表示需要重试。
	Process(ctx context.Context, task tasks.UploadValidationTask) error
	RequestValidation(ctx context.Context, uploadID string) (*model.Upload, error)
	GetStatus(ctx context.Context, uploadID string) (*model.Upload, error)
}

type validationService struct {
	uploadRepo repository.UploadRepository
	studies    StudyConfigProvider
	runner     ValidationRunner
	enqueue    EnqueueFunc
}

// NewValidationService 创建一个新的 ValidationService 实例。
func NewValidationService(uploadRepo repository.UploadRepository, studies StudyConfigProvider, runner ValidationRunner, enqueue EnqueueFunc) ValidationService {
	return &validationService{
		uploadRepo: uploadRepo,
		studies:    studies,
		runner:     runner,
		enqueue:    enqueue,
	}
}

// RegisterUpload 登记一次已完成的上传 (状态 REQUESTED) 并投递校验任务。
// 对象 key 缺省与上传 ID 相同。
func (s *validationService) RegisterUpload(ctx context.Context, req RegisterUploadRequest) (*model.Upload, error) {
	objectKey := req.ObjectKey
	if objectKey == "" {
		objectKey = req.UploadID
	}
	upload := &model.Upload{
		ID:            req.UploadID,
		StudyID:       req.StudyID,
		HealthCode:    req.HealthCode,
		ObjectKey:     objectKey,
		ContentLength: req.ContentLength,
		ContentMD5:    req.ContentMD5,
		Status:        model.UploadStatusRequested,
		UploadDate:    time.Now().Format(model.UploadDateFormat),
	}
	if err := s.uploadRepo.Create(ctx, upload); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tasks.UploadValidationTask{UploadID: upload.ID, StudyID: upload.StudyID}); err != nil {
		// 上传已登记，可以通过 RequestValidation 重新投递
		log.Errorf("[ValidationService] 投递校验任务失败, UploadID: %s, Error: %v", upload.ID, err)
		return nil, fmt.Errorf("投递校验任务失败: %w", err)
	}
	log.Infof("[ValidationService] 上传已登记, UploadID: %s, StudyID: %s", upload.ID, upload.StudyID)
	return upload, nil
}

// Process 加载上传并运行流水线。流水线总会写入终态，因此只有加载上传失败时才需要重试。
func (s *validationService) Process(ctx context.Context, task tasks.UploadValidationTask) error {
	log.Infof("[ValidationService] 收到校验任务, UploadID: %s, Attempt: %d", task.UploadID, task.Attempt)

	upload, err := s.uploadRepo.GetUpload(ctx, task.UploadID)
	if err != nil {
		if errors.Is(err, repository.ErrUploadNotFound) {
			log.Warnf("[ValidationService] 上传不存在, 丢弃任务, UploadID: %s", task.UploadID)
			return nil
		}
		return fmt.Errorf("加载上传 %s 失败: %w", task.UploadID, err)
	}
	if upload.IsTerminal() {
		log.Infof("[ValidationService] 上传已是终态 %s, 跳过, UploadID: %s", upload.Status, upload.ID)
		return nil
	}
	if upload.Status == model.UploadStatusRequested {
		if err := s.uploadRepo.MarkValidationInProgress(ctx, upload.ID); err != nil {
			return fmt.Errorf("标记上传 %s 为校验中失败: %w", upload.ID, err)
		}
		upload.Status = model.UploadStatusValidationInProgress
	}
	if task.StudyID != "" && task.StudyID != upload.StudyID {
		log.Warnw("[ValidationService] task study does not match upload, using upload study",
			"uploadId", upload.ID, "taskStudyId", task.StudyID, "studyId", upload.StudyID)
	}

	study := s.studies.GetStudyConfig(upload.StudyID)
	status := s.runner.Run(ctx, pipeline.NewContext(upload, study))
	log.Infof("[ValidationService] 校验任务完成, UploadID: %s, Status: %s", upload.ID, status)
	return nil
}

// RequestValidation 将上传重新置为校验中并投递任务，可用于重新驱动卡在校验中的上传。
func (s *validationService) RequestValidation(ctx context.Context, uploadID string) (*model.Upload, error) {
	upload, err := s.uploadRepo.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if err := s.uploadRepo.MarkValidationInProgress(ctx, upload.ID); err != nil {
		return nil, err
	}
	upload.Status = model.UploadStatusValidationInProgress
	upload.ValidationMessages = nil
	upload.RecordID = ""
	upload.CompletedOn = nil

	task := tasks.UploadValidationTask{UploadID: upload.ID, StudyID: upload.StudyID}
	if err := s.enqueue(ctx, task); err != nil {
		log.Errorf("[ValidationService] 投递校验任务失败, UploadID: %s, Error: %v", upload.ID, err)
		return nil, fmt.Errorf("投递校验任务失败: %w", err)
	}
	log.Infof("[ValidationService] 已投递校验任务, UploadID: %s", upload.ID)
	return upload, nil
}

// GetStatus 返回上传的当前状态与校验消息。
func (s *validationService) GetStatus(ctx context.Context, uploadID string) (*model.Upload, error) {
	return s.uploadRepo.GetUpload(ctx, uploadID)
}
