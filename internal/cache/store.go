package cache

import (
	"context"
	"errors"
	"net/http"
)

// Store 是缓存存储的最小契约：查找与写入相互独立，二者之间不要求原子性。
// 实现必须支持并发调用。
type Store interface {
	// Lookup 返回 key 对应的副本；不存在时返回 ErrNotFound。
	Lookup(ctx context.Context, key string) (*Response, error)

	// Write 覆盖写入 key，重复写入以最后一次为准。
	Write(ctx context.Context, key string, resp *Response) error
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// Response 是存储层与缓存处理器之间传递的完整响应。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse builds a response with an initialised header map.
func NewResponse(status int, body []byte) *Response {
	return &Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       body,
	}
}

// Clone 深拷贝 Header 与 Body，写入缓存的副本与返回给调用方的对象互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
	}
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return cloned
}
