package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"upload-validator-go/internal/config"
	"upload-validator-go/internal/model"
	"upload-validator-go/pkg/log"
	"upload-validator-go/pkg/storage"
)

// SanitizeFieldName 见 model.SanitizeFieldName。文件名、JSON key 与 schema 字段名都经过同样的处理后再比较。
func SanitizeFieldName(name string) string {
	return model.SanitizeFieldName(name)
}

// AttachmentKey 返回 FileHelper 写入附件时使用的对象 key。
func AttachmentKey(uploadID, fieldName string) string {
	return uploadID + "-" + SanitizeFieldName(fieldName)
}

// MessageSink 接收处理过程中产生的诊断消息，*Context 实现了该接口。
type MessageSink interface {
	AddMessage(msg string)
}

// ParsedJSONCache 按净化后的文件名缓存解析结果，同一次上传中每个文件只解析一次。
// 值为 nil 表示文件无法作为 JSON 对象使用。
type ParsedJSONCache map[string]map[string]interface{}

// FileHelper 从上传文件中解析 schema 字段的值。附件类型写入对象存储并返回 key，
// 其他类型在大小限制内直接内联。
type FileHelper struct {
	store  storage.ObjectStore
	bucket string
	cfg    config.UploadConfig
	dryRun bool
}

// NewFileHelper 创建一个新的 FileHelper 实例。
func NewFileHelper(store storage.ObjectStore, attachmentBucket string, cfg config.UploadConfig) *FileHelper {
	return &FileHelper{store: store, bucket: attachmentBucket, cfg: cfg}
}

// DryRun 返回一个只计算 key、不写对象存储的副本，供影子测试使用。
func (h *FileHelper) DryRun() *FileHelper {
	c := *h
	c.dryRun = true
	return &c
}

// FindValueForField 解析字段值，没有值时返回 nil。
//
// 字段名与某个文件名 (净化后) 相同时整个文件即为字段值；否则字段名按 "<文件名>.<key>" 解释，
// 从该 JSON 文件中取出对应 key，key 中的 '.' 可继续向下取嵌套对象。
func (h *FileHelper) FindValueForField(ctx context.Context, uploadID string, files map[string][]byte, field model.FieldDefinition,
	cache ParsedJSONCache, sink MessageSink) (interface{}, error) {
	fieldName := SanitizeFieldName(field.Name)

	sanitized := make(map[string][]byte, len(files))
	for name, data := range files {
		sanitized[SanitizeFieldName(name)] = data
	}

	if data, ok := sanitized[fieldName]; ok {
		return h.wholeFileValue(ctx, uploadID, field, data, sink)
	}

	fileName, key, ok := splitFieldName(fieldName, sanitized)
	if !ok {
		return nil, nil
	}
	obj := h.parsedFile(uploadID, fileName, sanitized[fileName], cache, sink)
	if obj == nil {
		return nil, nil
	}
	value, found := lookupKey(obj, key)
	if !found || value == nil {
		return nil, nil
	}

	if field.Type.IsAttachment() {
		return h.uploadValue(ctx, uploadID, field.Name, value)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode field %s: %w", field.Name, err)
	}
	if !h.checkInlineSize(uploadID, field.Name, int64(len(encoded)), sink) {
		return nil, nil
	}
	return value, nil
}

// UploadJSONAsAttachment 将 JSON 值写入附件 bucket，返回对象 key；空值不产生附件。
func (h *FileHelper) UploadJSONAsAttachment(ctx context.Context, uploadID, fieldName string, value interface{}) (interface{}, error) {
	return h.uploadValue(ctx, uploadID, fieldName, value)
}

func (h *FileHelper) uploadValue(ctx context.Context, uploadID, fieldName string, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode attachment %s: %w", fieldName, err)
	}
	return h.writeAttachment(ctx, uploadID, fieldName, data)
}

func (h *FileHelper) wholeFileValue(ctx context.Context, uploadID string, field model.FieldDefinition, data []byte, sink MessageSink) (interface{}, error) {
	if field.Type.IsAttachment() {
		return h.writeAttachment(ctx, uploadID, field.Name, data)
	}
	if !h.checkInlineSize(uploadID, field.Name, int64(len(data)), sink) {
		return nil, nil
	}
	if value, ok := decodeJSONValue(data); ok {
		return value, nil
	}
	return string(data), nil
}

func (h *FileHelper) writeAttachment(ctx context.Context, uploadID, fieldName string, data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	key := AttachmentKey(uploadID, fieldName)
	if h.dryRun {
		log.Debugf("[FileHelper] dry run, skip writing attachment %s", key)
		return key, nil
	}
	if err := h.store.Write(ctx, h.bucket, key, data); err != nil {
		return nil, fmt.Errorf("write attachment %s for upload %s: %w", fieldName, uploadID, err)
	}
	return key, nil
}

// checkInlineSize 超过上限的值被丢弃；介于告警线与上限之间的值仍然内联，但会记录一条消息。
func (h *FileHelper) checkInlineSize(uploadID, fieldName string, size int64, sink MessageSink) bool {
	if h.cfg.InlineFieldMaxBytes > 0 && size > h.cfg.InlineFieldMaxBytes {
		log.Warnw("[FileHelper] inline field too large, skipping",
			"uploadId", uploadID, "field", fieldName, "size", size)
		sink.AddMessage(fmt.Sprintf("Field %s is %d bytes, which exceeds the inline limit of %d bytes; value skipped",
			fieldName, size, h.cfg.InlineFieldMaxBytes))
		return false
	}
	if h.cfg.InlineFieldWarnBytes > 0 && size > h.cfg.InlineFieldWarnBytes {
		log.Warnw("[FileHelper] inline field is large",
			"uploadId", uploadID, "field", fieldName, "size", size)
		sink.AddMessage(fmt.Sprintf("Field %s is %d bytes, which exceeds the inline warning threshold of %d bytes",
			fieldName, size, h.cfg.InlineFieldWarnBytes))
	}
	return true
}

func (h *FileHelper) parsedFile(uploadID, fileName string, data []byte, cache ParsedJSONCache, sink MessageSink) map[string]interface{} {
	if obj, ok := cache[fileName]; ok {
		return obj
	}
	size := int64(len(data))
	if h.cfg.ParsedJSONMaxBytes > 0 && size > h.cfg.ParsedJSONMaxBytes {
		log.Warnw("[FileHelper] file too large to parse", "uploadId", uploadID, "file", fileName, "size", size)
		sink.AddMessage(fmt.Sprintf("File %s is %d bytes, which is too large to parse as JSON; skipped", fileName, size))
		cache[fileName] = nil
		return nil
	}
	if h.cfg.ParsedJSONWarnBytes > 0 && size > h.cfg.ParsedJSONWarnBytes {
		log.Warnw("[FileHelper] parsing large file", "uploadId", uploadID, "file", fileName, "size", size)
		sink.AddMessage(fmt.Sprintf("File %s is %d bytes, which exceeds the JSON parse warning threshold", fileName, size))
	}

	value, ok := decodeJSONValue(data)
	obj, isObj := value.(map[string]interface{})
	if !ok || !isObj {
		cache[fileName] = nil
		return nil
	}
	sanitizedObj := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		sanitizedObj[SanitizeFieldName(k)] = v
	}
	cache[fileName] = sanitizedObj
	return sanitizedObj
}

// splitFieldName 找出作为字段名前缀的文件名，多个候选时取最长的一个。
func splitFieldName(fieldName string, files map[string][]byte) (string, string, bool) {
	candidates := make([]string, 0, len(files))
	for name := range files {
		if strings.HasPrefix(fieldName, name+".") && len(fieldName) > len(name)+1 {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
	name := candidates[0]
	return name, fieldName[len(name)+1:], true
}

// lookupKey 先按完整 key 查找，找不到时按 '.' 逐级进入嵌套对象。
func lookupKey(obj map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	parts := strings.Split(key, ".")
	var cur interface{} = obj
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			if cur, ok = m[SanitizeFieldName(p)]; !ok {
				return nil, false
			}
		}
	}
	return cur, true
}

// decodeJSONValue 使用 UseNumber 解码，保留整数精度。
func decodeJSONValue(data []byte) (interface{}, bool) {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	var v interface{}
	if err := d.Decode(&v); err != nil {
		return nil, false
	}
	if d.More() {
		return nil, false
	}
	return v, true
}
