package pipeline

import (
	"context"
	"fmt"
)

// Handler 是流水线中的一个处理步骤。返回 ValidationError 表示上传本身有问题，其他错误视为意外失败。
type Handler interface {
	Handle(ctx context.Context, vctx *Context) error
}

// HandlerFunc 将普通函数适配为 Handler。
type HandlerFunc func(ctx context.Context, vctx *Context) error

// Handle 调用 f(ctx, vctx)。
func (f HandlerFunc) Handle(ctx context.Context, vctx *Context) error {
	return f(ctx, vctx)
}

// runHandler 运行一个步骤并将 panic 转换为普通错误。
func runHandler(ctx context.Context, h Handler, vctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", handlerName(h), r)
		}
	}()
	return h.Handle(ctx, vctx)
}

func handlerName(h Handler) string {
	return fmt.Sprintf("%T", h)
}
