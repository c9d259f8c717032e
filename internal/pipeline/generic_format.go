package pipeline

import (
	"context"
	"upload-validator-go/internal/config"
	"upload-validator-go/internal/model"
	"upload-validator-go/pkg/log"
)

// GenericFormatHandler 处理 v2_generic 格式：字段优先从 info.json 声明的数据文件中读取，
// 其次按文件名从上传包中解析。
type GenericFormatHandler struct {
	schemas SchemaGetter
	files   *FileHelper
	cfg     config.UploadConfig
}

// NewGenericFormatHandler 创建一个新的 GenericFormatHandler 实例。
func NewGenericFormatHandler(schemas SchemaGetter, files *FileHelper, cfg config.UploadConfig) *GenericFormatHandler {
	return &GenericFormatHandler{schemas: schemas, files: files, cfg: cfg}
}

// Handle 解析 schema、计算 createdOn，并提取全部字段。
func (h *GenericFormatHandler) Handle(ctx context.Context, vctx *Context) error {
	uploadID := vctx.UploadID()
	log.Infof("[GenericFormat] 开始提取字段, UploadID: %s", uploadID)

	schema, err := h.resolveSchema(ctx, vctx)
	if err != nil {
		return err
	}
	applySchema(vctx, schema)
	h.computeCreatedOn(vctx)

	dataFile := h.readDataFile(vctx)
	cache := ParsedJSONCache{}
	for _, field := range schema.FieldDefinitions {
		var value interface{}
		switch {
		case field.Name == SurveyAnswersField && dataFile != nil:
			value = map[string]interface{}(dataFile)
		case dataFile != nil && dataFile[field.Name] != nil:
			value = dataFile[field.Name]
		default:
			v, err := h.files.FindValueForField(ctx, uploadID, vctx.UnzippedFiles, field, cache, vctx)
			if err != nil {
				return err
			}
			if v == nil {
				continue
			}
			if field.Type.IsAttachment() {
				key := v.(string)
				vctx.Record.Data[field.Name] = key
				vctx.WrittenAttachments[field.Name] = key
			} else {
				vctx.Record.Data[field.Name] = v
			}
			continue
		}

		// 数据文件中的值
		if field.Type.IsAttachment() {
			key, err := h.files.UploadJSONAsAttachment(ctx, uploadID, field.Name, value)
			if err != nil {
				return err
			}
			if key != nil {
				vctx.Record.Data[field.Name] = key
				vctx.WrittenAttachments[field.Name] = key.(string)
			}
			continue
		}
		vctx.Record.Data[field.Name] = value
	}

	log.Infof("[GenericFormat] 字段提取完成, UploadID: %s, Schema: %s, Fields: %d", uploadID, schema.Key(), len(vctx.Record.Data))
	return nil
}

// resolveSchema 需要 surveyGuid+surveyCreatedOn 或 item+schemaRevision 其中一组。
func (h *GenericFormatHandler) resolveSchema(ctx context.Context, vctx *Context) (*model.UploadSchema, error) {
	m := vctx.Manifest
	if guid, createdOn := m.SurveyGUID(), m.SurveyCreatedOn(); guid != "" && createdOn != "" {
		return getSchemaForSurvey(ctx, h.schemas, vctx, guid, createdOn)
	}
	item := m.Item()
	revision, ok := m.SchemaRevision()
	if item == "" || !ok {
		return nil, NewValidationError("%s must contain either item and schemaRevision or surveyGuid and surveyCreatedOn", ManifestFilename)
	}
	return getSchema(ctx, h.schemas, vctx, item, revision)
}

// computeCreatedOn 解析 createdOn。缺失或格式错误时使用当前时间并记录消息，不会导致校验失败。
func (h *GenericFormatHandler) computeCreatedOn(vctx *Context) {
	raw := vctx.Manifest.CreatedOn()
	if raw == "" {
		vctx.AddMessage("Upload has no createdOn; using current time.")
		setCreatedOn(vctx.Record, nowFunc().UnixMilli(), "")
		return
	}
	ts, ok := ParseTimestamp(raw)
	if !ok {
		vctx.AddMessagef("Invalid date-time: %s", raw)
		setCreatedOn(vctx.Record, nowFunc().UnixMilli(), "")
		return
	}
	setCreatedOn(vctx.Record, ts.UnixMilli(), timeZoneOffset(ts))
}

// readDataFile 读取数据文件，文件不存在、超过大小限制或不是 JSON 对象时返回 nil。
func (h *GenericFormatHandler) readDataFile(vctx *Context) map[string]interface{} {
	name := vctx.Manifest.DataFilename()
	raw, ok := vctx.UnzippedFiles[name]
	if !ok {
		return nil
	}
	if h.cfg.DataFileMaxBytes > 0 && int64(len(raw)) > h.cfg.DataFileMaxBytes {
		log.Warnw("[GenericFormat] data file too large", "uploadId", vctx.UploadID(), "file", name, "size", len(raw))
		vctx.AddMessagef("Data file %s exceeds %d bytes; fields were resolved from individual files", name, h.cfg.DataFileMaxBytes)
		return nil
	}
	obj, ok := vctx.JSONFiles[name].(map[string]interface{})
	if !ok {
		vctx.AddMessagef("Data file %s is not a JSON object", name)
		return nil
	}
	return obj
}
