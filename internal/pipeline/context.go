// Package pipeline 定义了上传校验的核心流程：按顺序运行的处理步骤共享同一个可变的 Context。
package pipeline

import (
	"fmt"
	"upload-validator-go/internal/model"
)

// Context 是一次上传校验的工作单元，由 Task 创建，按顺序被各处理步骤读取和修改。
// 同一个 Context 不会在两次运行之间共享，因此不需要加锁。
type Context struct {
	StudyID string
	Upload  *model.Upload
	Study   model.StudySettings
	// Strictness 在流水线开始时解析一次，后续步骤不再重新计算。
	Strictness model.Strictness

	RawData       []byte
	DecryptedData []byte
	UnzippedFiles map[string][]byte
	// JSONFiles 保存 UnzippedFiles 中能够解析为 JSON 的文件，值为 encoding/json (UseNumber) 解码结果。
	JSONFiles map[string]interface{}
	Manifest  *Manifest
	// AppVersion 为 info.json 中解析出的客户端 build 号，未知时为 nil。
	AppVersion *int

	Schema *model.UploadSchema
	Record *model.HealthDataRecord
	// Attachments 保存待由 UploadArtifactsHandler 写入对象存储的附件内容 (字段名 → 字节)。
	Attachments map[string][]byte
	// WrittenAttachments 保存已由 FileHelper 直接写入对象存储的附件 (字段名 → 对象 key)。
	WrittenAttachments map[string]string

	Success  bool
	RecordID string

	messages []string
}

// NewContext 为一次上传创建新的 Context。
func NewContext(upload *model.Upload, study model.StudySettings) *Context {
	return &Context{
		StudyID:            upload.StudyID,
		Upload:             upload,
		Study:              study,
		Strictness:         study.ResolveStrictness(),
		UnzippedFiles:      map[string][]byte{},
		JSONFiles:          map[string]interface{}{},
		Attachments:        map[string][]byte{},
		WrittenAttachments: map[string]string{},
		Success:            true,
	}
}

// UploadID 返回当前上传的 ID。
func (c *Context) UploadID() string {
	if c.Upload == nil {
		return ""
	}
	return c.Upload.ID
}

// AddMessage 追加一条校验消息，消息列表只增不减。
func (c *Context) AddMessage(msg string) {
	c.messages = append(c.messages, msg)
}

// AddMessagef 格式化后追加一条校验消息。
func (c *Context) AddMessagef(format string, args ...interface{}) {
	c.AddMessage(fmt.Sprintf(format, args...))
}

// Messages 返回消息列表的副本。
func (c *Context) Messages() []string {
	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}

// Clone 深拷贝所有可变状态。影子测试在副本上运行候选步骤，副本上的修改不会影响原 Context。
// Upload、Manifest、Schema 在流水线中只读，因此共享引用。
func (c *Context) Clone() *Context {
	clone := *c
	clone.RawData = cloneBytes(c.RawData)
	clone.DecryptedData = cloneBytes(c.DecryptedData)
	clone.UnzippedFiles = cloneFileMap(c.UnzippedFiles)
	clone.Attachments = cloneFileMap(c.Attachments)
	clone.JSONFiles = make(map[string]interface{}, len(c.JSONFiles))
	for k, v := range c.JSONFiles {
		clone.JSONFiles[k] = model.CopyJSONValue(v)
	}
	clone.WrittenAttachments = make(map[string]string, len(c.WrittenAttachments))
	for k, v := range c.WrittenAttachments {
		clone.WrittenAttachments[k] = v
	}
	if c.AppVersion != nil {
		v := *c.AppVersion
		clone.AppVersion = &v
	}
	clone.Record = c.Record.Clone()
	clone.messages = c.Messages()
	return &clone
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneFileMap(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = cloneBytes(v)
	}
	return out
}
