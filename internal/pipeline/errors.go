package pipeline

import (
	"errors"
	"fmt"
)

// ValidationError 表示上传内容本身不合法（缺少或损坏的 info.json、不符合 schema 等）。
// 它的消息会原样展示给用户；其他错误只会以通用消息展示。
type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

// NewValidationError 按 fmt.Errorf 的规则构造 ValidationError，支持 %w。
func NewValidationError(format string, args ...interface{}) error {
	return ValidationError{reason: fmt.Errorf(format, args...)}
}

// IsValidationError 判断错误链中是否包含 ValidationError。
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
