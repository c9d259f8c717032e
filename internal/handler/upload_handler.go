// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"upload-validator-go/internal/model"
	"upload-validator-go/internal/repository"
	"upload-validator-go/internal/service"
	"upload-validator-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UploadHandler 负责处理运维侧与上传校验相关的 API 请求。
type UploadHandler struct {
	validationService service.ValidationService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(validationService service.ValidationService) *UploadHandler {
	return &UploadHandler{validationService: validationService}
}

// UploadStatusResponse 是上传状态查询接口返回的数据。
type UploadStatusResponse struct {
	UploadID           string             `json:"uploadId"`
	StudyID            string             `json:"studyId"`
	Status             model.UploadStatus `json:"status"`
	ValidationMessages []string           `json:"validationMessages"`
	RecordID           string             `json:"recordId,omitempty"`
	RequestedOn        model.LocalTime    `json:"requestedOn"`
	CompletedOn        *model.LocalTime   `json:"completedOn,omitempty"`
}

func newUploadStatusResponse(u *model.Upload) UploadStatusResponse {
	messages := []string(u.ValidationMessages)
	if messages == nil {
		messages = []string{}
	}
	return UploadStatusResponse{
		UploadID:           u.ID,
		StudyID:            u.StudyID,
		Status:             u.Status,
		ValidationMessages: messages,
		RecordID:           u.RecordID,
		RequestedOn:        model.LocalTime(u.RequestedOn),
		CompletedOn:        model.NewLocalTime(u.CompletedOn),
	}
}

// RegisterUpload 处理客户端上传完成后的登记请求。
func (h *UploadHandler) RegisterUpload(c *gin.Context) {
	var req service.RegisterUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	upload, err := h.validationService.RegisterUpload(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, repository.ErrUploadExists) {
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "上传已存在", "data": nil})
			return
		}
		log.Error("RegisterUpload: failed to register upload", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "登记上传失败", "data": nil})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": newUploadStatusResponse(upload)})
}

// RequestValidation 重新投递一次上传的校验任务。
func (h *UploadHandler) RequestValidation(c *gin.Context) {
	uploadID := c.Param("uploadId")
	upload, err := h.validationService.RequestValidation(c.Request.Context(), uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrUploadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "上传不存在", "data": nil})
			return
		}
		log.Error("RequestValidation: failed to request validation", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "投递校验任务失败", "data": nil})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "success", "data": newUploadStatusResponse(upload)})
}

// GetStatus 返回上传的校验状态与消息。
func (h *UploadHandler) GetStatus(c *gin.Context) {
	uploadID := c.Param("uploadId")
	upload, err := h.validationService.GetStatus(c.Request.Context(), uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrUploadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "上传不存在", "data": nil})
			return
		}
		log.Error("GetStatus: failed to get upload status", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "服务器内部错误", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": newUploadStatusResponse(upload)})
}

// Healthz 用于存活探测。
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "ok", "data": nil})
}
