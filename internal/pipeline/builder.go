package pipeline

import (
	"upload-validator-go/internal/config"
	"upload-validator-go/pkg/log"
	"upload-validator-go/pkg/storage"
)

// Dependencies 汇总组装校验流水线所需的协作者。
type Dependencies struct {
	Store            storage.ObjectStore
	Decryptor        Decryptor
	Schemas          SchemaGetter
	Dedupe           DedupeStore
	Records          RecordStore
	Participants     ParticipantGetter
	Uploads          StatusWriter
	UploadBucket     string
	AttachmentBucket string
	Config           config.UploadConfig
}

// NewValidationTask 按固定顺序组装校验步骤：
// 下载 → 解密 → 解压 → 解析 JSON → 去重检查 → 初始化记录 → 字段提取 → 严格校验 → 转录同意信息 → 写入产物 [→ 保存原始包]。
func NewValidationTask(deps Dependencies) *Task {
	cfg := deps.Config
	files := NewFileHelper(deps.Store, deps.AttachmentBucket, cfg)

	var format Handler = NewFormatDispatcher(
		NewLegacyFormatHandler(deps.Schemas, files, cfg),
		NewGenericFormatHandler(deps.Schemas, files, cfg),
	)
	if cfg.ShadowEnabled {
		format = NewShadowHandler(format, newCandidateHandler(deps, files.DryRun()), SchemaContextComparator{})
		log.Infof("[Pipeline] 已启用影子测试, 候选格式: %q", cfg.ShadowCandidateFormat)
	}

	handlers := []Handler{
		NewDownloadHandler(deps.Store, deps.UploadBucket),
		NewDecryptHandler(deps.Decryptor),
		NewUnzipHandler(cfg),
		NewParseJSONHandler(cfg),
		NewDedupeHandler(deps.Dedupe),
		NewInitRecordHandler(),
		format,
		NewStrictValidationHandler(),
		NewTranscribeConsentHandler(deps.Participants),
		NewUploadArtifactsHandler(deps.Records, deps.Store, deps.AttachmentBucket),
	}
	if cfg.PersistRawZip {
		handlers = append(handlers, NewUploadRawZipHandler(deps.Records, deps.Store, deps.AttachmentBucket))
	}
	return NewTask(deps.Uploads, handlers...)
}

// newCandidateHandler 返回影子测试使用的候选提取步骤，附件只计算 key 不写入。
// 未指定候选格式时按 info.json 声明的格式重新提取一次。
func newCandidateHandler(deps Dependencies, files *FileHelper) Handler {
	legacy := NewLegacyFormatHandler(deps.Schemas, files, deps.Config)
	generic := NewGenericFormatHandler(deps.Schemas, files, deps.Config)
	format, err := ParseUploadFormat(deps.Config.ShadowCandidateFormat)
	if deps.Config.ShadowCandidateFormat == "" || err != nil {
		if err != nil {
			log.Warnf("[Pipeline] 未知的候选格式 %q, 按声明格式提取", deps.Config.ShadowCandidateFormat)
		}
		return NewFormatDispatcher(legacy, generic)
	}
	if format == FormatGeneric {
		return generic
	}
	return legacy
}
