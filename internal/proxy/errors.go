package proxy

import (
	"errors"
	"fmt"
)

// ErrNilResponse 表示 Resolver 既没有返回响应也没有返回错误。
var ErrNilResponse = errors.New("origin returned no response")

// LookupError 包装缓存查找失败；请求按 miss 继续处理。
type LookupError struct {
	Key string
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("cache lookup %q: %v", e.Key, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// WriteError 包装延迟回写失败，只会出现在失败通道中。
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache write %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// FailureKind 将后台失败归类为 lookup、write 或 task，用于指标标签。
func FailureKind(err error) string {
	var lookupErr *LookupError
	if errors.As(err, &lookupErr) {
		return "lookup"
	}
	var writeErr *WriteError
	if errors.As(err, &writeErr) {
		return "write"
	}
	return "task"
}
