package cache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// EncodeResponse 将响应序列化为 HTTP/1.1 报文格式。
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	wire := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
	}
	if wire.Header == nil {
		wire.Header = http.Header{}
	}

	buf := &bytes.Buffer{}
	if err := wire.Write(buf); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResponse parses bytes produced by EncodeResponse. Content-Length is
// dropped because the HTTP layer recomputes it when serving.
func DecodeResponse(b []byte) (*Response, error) {
	wire, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	defer wire.Body.Close()

	body, err := io.ReadAll(wire.Body)
	if err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	header := wire.Header
	if header == nil {
		header = http.Header{}
	}
	header.Del("Content-Length")

	return &Response{
		StatusCode: wire.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}
