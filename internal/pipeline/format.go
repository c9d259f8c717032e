package pipeline

import (
	"context"
	"errors"
	"strings"
	"upload-validator-go/internal/model"
	"upload-validator-go/internal/repository"
)

// UploadFormat 是 info.json 中 format 字段声明的上传格式。
type UploadFormat string

const (
	FormatLegacy  UploadFormat = "v1_legacy"
	FormatGeneric UploadFormat = "v2_generic"
)

// ParseUploadFormat 解析格式标记。未声明格式的旧客户端按 v1_legacy 处理。
func ParseUploadFormat(s string) (UploadFormat, error) {
	switch UploadFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return FormatLegacy, nil
	case FormatLegacy:
		return FormatLegacy, nil
	case FormatGeneric:
		return FormatGeneric, nil
	}
	return "", NewValidationError("%s has unsupported format %q", ManifestFilename, s)
}

// SchemaGetter 查询 upload schema，找不到时返回 repository.ErrSchemaNotFound。
type SchemaGetter interface {
	GetSchema(ctx context.Context, studyID, schemaID string, revision int) (*model.UploadSchema, error)
	GetSchemaForSurvey(ctx context.Context, studyID, surveyGUID string, surveyCreatedOn int64) (*model.UploadSchema, error)
}

// FormatDispatcher 按 info.json 的 format 字段选择字段提取策略。
type FormatDispatcher struct {
	handlers map[UploadFormat]Handler
}

// NewFormatDispatcher 创建一个新的 FormatDispatcher 实例。
func NewFormatDispatcher(legacy, generic Handler) *FormatDispatcher {
	return &FormatDispatcher{handlers: map[UploadFormat]Handler{
		FormatLegacy:  legacy,
		FormatGeneric: generic,
	}}
}

// Handle 将上传交给对应格式的处理器。
func (d *FormatDispatcher) Handle(ctx context.Context, vctx *Context) error {
	if vctx.Manifest == nil {
		return NewValidationError("upload %s has no %s", vctx.UploadID(), ManifestFilename)
	}
	format, err := ParseUploadFormat(vctx.Manifest.Format())
	if err != nil {
		return err
	}
	h, ok := d.handlers[format]
	if !ok || h == nil {
		return NewValidationError("no handler registered for format %s", format)
	}
	return h.Handle(ctx, vctx)
}

// getSchemaForSurvey 解析 surveyCreatedOn 并查找问卷 schema。
func getSchemaForSurvey(ctx context.Context, schemas SchemaGetter, vctx *Context, guid, createdOn string) (*model.UploadSchema, error) {
	ts, ok := ParseTimestamp(createdOn)
	if !ok {
		return nil, NewValidationError("%s.surveyCreatedOn is invalid: %s", ManifestFilename, createdOn)
	}
	schema, err := schemas.GetSchemaForSurvey(ctx, vctx.StudyID, guid, ts.UnixMilli())
	if errors.Is(err, repository.ErrSchemaNotFound) {
		return nil, NewValidationError("schema not found for survey %s created on %s", guid, createdOn)
	}
	return schema, err
}

func getSchema(ctx context.Context, schemas SchemaGetter, vctx *Context, item string, revision int) (*model.UploadSchema, error) {
	schema, err := schemas.GetSchema(ctx, vctx.StudyID, item, revision)
	if errors.Is(err, repository.ErrSchemaNotFound) {
		return nil, NewValidationError("schema not found for study %s, item %s, revision %d", vctx.StudyID, item, revision)
	}
	return schema, err
}

// applySchema 记录解析出的 schema。
func applySchema(vctx *Context, schema *model.UploadSchema) {
	vctx.Schema = schema
	vctx.Record.SchemaID = schema.SchemaID
	vctx.Record.SchemaRevision = schema.Revision
}

// setCreatedOn 写入记录的创建时间及时区偏移。
func setCreatedOn(record *model.HealthDataRecord, createdOn int64, timeZone string) {
	record.CreatedOn = createdOn
	record.CreatedOnTimeZone = timeZone
}
