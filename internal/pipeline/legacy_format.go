package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"
	"upload-validator-go/internal/config"
	"upload-validator-go/internal/model"
	"upload-validator-go/pkg/log"
)

// 旧版 iOS 客户端会在文件名中附加时间戳，例如 "walk-1431460431000.json"。
var filenameTimestampPattern = regexp.MustCompile(`-\d{8,}`)

// 问卷答案文件中 questionType 对应的答案字段。
var surveyAnswerKeys = map[string]string{
	"Boolean":        "booleanAnswer",
	"Date":           "dateAnswer",
	"DateAndTime":    "dateAnswer",
	"Decimal":        "numericAnswer",
	"Integer":        "numericAnswer",
	"MultipleChoice": "choiceAnswers",
	"SingleChoice":   "choiceAnswers",
	"None":           "scaleAnswer",
	"Scale":          "scaleAnswer",
	"Text":           "textAnswer",
	"TimeInterval":   "intervalAnswer",
	"TimeOfDay":      "dateComponentsAnswer",
}

// SurveyAnswersField 是问卷答案汇总附件的字段名。
const SurveyAnswersField = "answers"

// LegacyFormatHandler 处理 v1_legacy 格式：每个问题或数据项一个文件，info.json 中列出文件清单。
type LegacyFormatHandler struct {
	schemas SchemaGetter
	files   *FileHelper
	cfg     config.UploadConfig
}

// NewLegacyFormatHandler 创建一个新的 LegacyFormatHandler 实例。
func NewLegacyFormatHandler(schemas SchemaGetter, files *FileHelper, cfg config.UploadConfig) *LegacyFormatHandler {
	return &LegacyFormatHandler{schemas: schemas, files: files, cfg: cfg}
}

// Handle 解析 schema、计算 createdOn，并按 schema 类型提取字段。
func (h *LegacyFormatHandler) Handle(ctx context.Context, vctx *Context) error {
	uploadID := vctx.UploadID()
	log.Infof("[LegacyFormat] 开始提取字段, UploadID: %s", uploadID)

	latestFileTime := h.validateFileList(vctx)

	files := removeTimestampsFromFilenames(vctx.UnzippedFiles)
	jsonFiles := make(map[string]interface{}, len(vctx.JSONFiles))
	for name, v := range vctx.JSONFiles {
		jsonFiles[filenameTimestampPattern.ReplaceAllString(name, "")] = v
	}

	schema, err := h.resolveSchema(ctx, vctx)
	if err != nil {
		return err
	}
	applySchema(vctx, schema)
	h.computeCreatedOn(vctx, latestFileTime)

	switch schema.SchemaType {
	case model.SchemaTypeIOSSurvey:
		err = h.convertSurvey(vctx, schema, jsonFiles, files)
	default:
		err = h.extractDataFields(ctx, vctx, schema, files)
	}
	if err != nil {
		return err
	}
	log.Infof("[LegacyFormat] 字段提取完成, UploadID: %s, Schema: %s, Fields: %d, Attachments: %d",
		uploadID, schema.Key(), len(vctx.Record.Data), len(vctx.Attachments)+len(vctx.WrittenAttachments))
	return nil
}

// validateFileList 检查 info.json 的 files 列表，问题只记录为消息。返回文件中最晚的时间戳。
func (h *LegacyFormatHandler) validateFileList(vctx *Context) *time.Time {
	uploadID := vctx.UploadID()
	m := vctx.Manifest
	if !m.HasFiles() {
		vctx.AddMessagef("upload ID %s info.json does not contain file list", uploadID)
		return nil
	}
	files := m.Files()
	if len(files) == 0 {
		vctx.AddMessagef("upload ID %s info.json contains empty file list", uploadID)
		return nil
	}

	var latest *time.Time
	for i, f := range files {
		if f.Filename == "" {
			vctx.AddMessagef("upload ID %s info.json file %d has no name", uploadID, i)
			continue
		}
		if _, ok := vctx.UnzippedFiles[f.Filename]; !ok {
			vctx.AddMessagef("upload ID %s info.json contains filename %s, not found in the archive", uploadID, f.Filename)
		}
		if f.Timestamp == "" {
			vctx.AddMessagef("upload ID %s filename %s has no timestamp", uploadID, f.Filename)
			continue
		}
		ts, ok := ParseTimestamp(f.Timestamp)
		if !ok {
			vctx.AddMessagef("upload ID %s filename %s has invalid timestamp %s", uploadID, f.Filename, f.Timestamp)
			continue
		}
		if latest == nil || ts.After(*latest) {
			t := ts
			latest = &t
		}
	}
	return latest
}

// resolveSchema 查找顺序: surveyGuid+surveyCreatedOn，其次 item (缺失时用 identifier)。
// item 的 revision 依次取 info.json 的 schemaRevision、研究项目默认 revision、1。
func (h *LegacyFormatHandler) resolveSchema(ctx context.Context, vctx *Context) (*model.UploadSchema, error) {
	m := vctx.Manifest
	if guid, createdOn := m.SurveyGUID(), m.SurveyCreatedOn(); guid != "" && createdOn != "" {
		return getSchemaForSurvey(ctx, h.schemas, vctx, guid, createdOn)
	}

	item := m.Item()
	if item == "" {
		item = m.Identifier()
	}
	if item == "" {
		return nil, NewValidationError("%s must contain either item or surveyGuid and surveyCreatedOn", ManifestFilename)
	}

	revision, ok := m.SchemaRevision()
	if !ok {
		revision = 1
		if rev, found := vctx.Study.DefaultRevision(item); found {
			revision = rev
		}
	}
	return getSchema(ctx, h.schemas, vctx, item, revision)
}

// computeCreatedOn 优先使用 info.json createdOn，其次是文件清单中最晚的时间戳，最后使用当前时间。
func (h *LegacyFormatHandler) computeCreatedOn(vctx *Context, latestFileTime *time.Time) {
	m := vctx.Manifest
	if raw := m.CreatedOn(); raw != "" {
		if ts, ok := ParseTimestamp(raw); ok {
			setCreatedOn(vctx.Record, ts.UnixMilli(), timeZoneOffset(ts))
			return
		}
		vctx.AddMessagef("%s.createdOn is invalid: %s", ManifestFilename, raw)
	}
	if latestFileTime != nil {
		setCreatedOn(vctx.Record, latestFileTime.UnixMilli(), timeZoneOffset(*latestFileTime))
		return
	}
	vctx.AddMessagef("upload ID %s has no timestamps, using current time", vctx.UploadID())
	setCreatedOn(vctx.Record, nowFunc().UnixMilli(), "")
}

// convertSurvey 将逐题的答案文件转换为记录字段，并把全部答案合并为一个 answers 附件。
func (h *LegacyFormatHandler) convertSurvey(vctx *Context, schema *model.UploadSchema, jsonFiles map[string]interface{}, files map[string][]byte) error {
	answers := map[string]interface{}{}
	for _, name := range sortedKeys(jsonFiles) {
		if name == ManifestFilename || name == metadataFilename {
			continue
		}
		if raw, ok := files[name]; ok && h.cfg.SurveyAnswerMaxBytes > 0 && int64(len(raw)) > h.cfg.SurveyAnswerMaxBytes {
			vctx.AddMessagef("Survey answer file %s exceeds %d bytes; skipped", name, h.cfg.SurveyAnswerMaxBytes)
			continue
		}
		obj, ok := jsonFiles[name].(map[string]interface{})
		if !ok {
			vctx.AddMessagef("Survey answer file %s is not a JSON object; skipped", name)
			continue
		}
		item, _ := obj["item"].(string)
		if item == "" {
			vctx.AddMessagef("Survey answer file %s has no item; skipped", name)
			continue
		}
		questionType, _ := obj["questionTypeName"].(string)
		if questionType == "" {
			questionType, _ = obj["questionType"].(string)
		}
		if questionType == "" {
			vctx.AddMessagef("Survey answer %s has no question type; skipped", item)
			continue
		}
		answerKey, ok := surveyAnswerKeys[questionType]
		if !ok {
			vctx.AddMessagef("Survey answer %s has unknown question type %s; skipped", item, questionType)
			continue
		}
		answer, ok := obj[answerKey]
		if !ok || answer == nil {
			vctx.AddMessagef("Survey answer %s has no %s; skipped", item, answerKey)
			continue
		}
		answers[item] = answer
		if unit, ok := obj["unit"].(string); ok && unit != "" {
			answers[item+"_unit"] = unit
		}
	}
	if len(answers) == 0 {
		return NewValidationError("upload ID %s has a survey with no answers", vctx.UploadID())
	}

	for _, field := range schema.FieldDefinitions {
		if field.Name == SurveyAnswersField {
			continue
		}
		value, ok := answers[field.Name]
		if !ok {
			continue
		}
		if field.Type.IsAttachment() {
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encode survey answer %s: %w", field.Name, err)
			}
			vctx.Attachments[field.Name] = encoded
			continue
		}
		copyJSONField(vctx, field, value)
	}

	encoded, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode survey answers: %w", err)
	}
	vctx.Attachments[SurveyAnswersField] = encoded
	return nil
}

// extractDataFields 按 schema 字段逐个从文件中解析值。
func (h *LegacyFormatHandler) extractDataFields(ctx context.Context, vctx *Context, schema *model.UploadSchema, files map[string][]byte) error {
	cache := ParsedJSONCache{}
	for _, field := range schema.FieldDefinitions {
		value, err := h.files.FindValueForField(ctx, vctx.UploadID(), files, field, cache, vctx)
		if err != nil {
			return err
		}
		if value == nil {
			continue
		}
		if field.Type.IsAttachment() {
			key := value.(string)
			vctx.Record.Data[field.Name] = key
			vctx.WrittenAttachments[field.Name] = key
			continue
		}
		copyJSONField(vctx, field, value)
	}
	return nil
}

// copyJSONField 写入字段值。日期字段截断为 YYYY-MM-DD；string 字段的非字符串值转为 JSON 文本。
func copyJSONField(vctx *Context, field model.FieldDefinition, value interface{}) {
	switch field.Type {
	case model.FieldTypeCalendarDate:
		s, ok := value.(string)
		if ok && len(s) > 10 {
			s = s[:10]
		}
		if !ok {
			vctx.AddMessagef("Invalid calendar date for field %s: %v", field.Name, value)
			return
		}
		if _, err := time.Parse(calendarDateLayout, s); err != nil {
			vctx.AddMessagef("Invalid calendar date for field %s: %s", field.Name, s)
			return
		}
		vctx.Record.Data[field.Name] = s
	case model.FieldTypeString:
		if s, ok := value.(string); ok {
			vctx.Record.Data[field.Name] = s
			return
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			vctx.AddMessagef("Could not convert field %s to string", field.Name)
			return
		}
		vctx.Record.Data[field.Name] = string(encoded)
	default:
		vctx.Record.Data[field.Name] = value
	}
}

func removeTimestampsFromFilenames(files map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for name, data := range files {
		out[filenameTimestampPattern.ReplaceAllString(name, "")] = data
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
