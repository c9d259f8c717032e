package pipeline

import (
	"context"
	"strings"
	"upload-validator-go/internal/model"
	"upload-validator-go/pkg/log"
)

// StrictValidationHandler 按 schema 检查必填字段与字段类型，并将值规范化后写回记录。
// 全部违规累积后再按研究项目的严格程度处理：STRICT 使上传失败，REPORT/WARNING 只记录。
type StrictValidationHandler struct{}

// NewStrictValidationHandler 创建一个新的 StrictValidationHandler 实例。
func NewStrictValidationHandler() *StrictValidationHandler {
	return &StrictValidationHandler{}
}

// Handle 实现 Handler 接口。
func (h *StrictValidationHandler) Handle(_ context.Context, vctx *Context) error {
	if vctx.Schema == nil || vctx.Record == nil {
		return NewValidationError("upload %s has no schema to validate against", vctx.UploadID())
	}
	errs := ValidateRecord(vctx)
	if len(errs) == 0 {
		return nil
	}

	log.Infow("[StrictValidation] schema violations",
		"uploadId", vctx.UploadID(),
		"schema", vctx.Schema.Key(),
		"strictness", vctx.Strictness,
		"count", len(errs),
	)
	switch vctx.Strictness {
	case model.StrictnessStrict:
		return NewValidationError("%s", strings.Join(errs, "; "))
	case model.StrictnessReport:
		for _, e := range errs {
			vctx.AddMessage(e)
		}
		vctx.Record.ValidationErrors = strings.Join(errs, "; ")
	default:
		for _, e := range errs {
			vctx.AddMessage(e)
		}
	}
	return nil
}

// ValidateRecord 返回全部违规描述，不会在第一个错误处停止。通过检查的值会被替换为规范化形式。
func ValidateRecord(vctx *Context) []string {
	var errs []string
	data := vctx.Record.Data
	for _, field := range vctx.Schema.FieldDefinitions {
		required := ComputeIsRequired(field, vctx.AppVersion)

		if field.Type.IsAttachment() {
			if required && !hasAttachment(vctx, field.Name) {
				errs = append(errs, "Required attachment field "+field.Name+" missing")
			}
			continue
		}

		value, present := data[field.Name]
		if !present || value == nil {
			if required {
				errs = append(errs, "Required field "+field.Name+" missing")
			}
			continue
		}
		canonical, err := Canonicalize(value, field.Type)
		if err != nil {
			errs = append(errs, "Canonicalization failed for field "+field.Name+": "+err.Error())
			continue
		}
		data[field.Name] = canonical
	}
	return errs
}

// ComputeIsRequired 字段声明为必填，并且客户端版本未知或落在 [min, max] 内时才视为必填。
// 缺失的边界表示该侧不设限。
func ComputeIsRequired(field model.FieldDefinition, appVersion *int) bool {
	if !field.Required {
		return false
	}
	if appVersion == nil {
		return true
	}
	if field.MinAppVersion != nil && *appVersion < *field.MinAppVersion {
		return false
	}
	if field.MaxAppVersion != nil && *appVersion > *field.MaxAppVersion {
		return false
	}
	return true
}

func hasAttachment(vctx *Context, name string) bool {
	if v, ok := vctx.Record.Data[name]; ok && v != nil {
		return true
	}
	if _, ok := vctx.Attachments[name]; ok {
		return true
	}
	_, ok := vctx.WrittenAttachments[name]
	return ok
}
