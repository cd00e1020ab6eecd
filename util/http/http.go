package http

import (
	"context"
	"time"
)

// IClient 发起 HTTP 请求，rembg 后端通过它访问推理服务
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次请求
//
// Body 支持 nil、io.Reader、[]byte，其他类型按 JSON 序列化。
// Response 为 *[]byte 时保存原始响应体，其他非 nil 值按 JSON 反序列化。
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	Timeout time.Duration
}
