package livehub

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/livehub/middleware"
	"github.com/tokmz/livehub/pkg/errors"
)

// Response 管理接口统一响应结构
type Response struct {
	Code    int    `json:"code"`               // 业务状态码
	Data    any    `json:"data"`               // 响应数据
	Message string `json:"message"`            // 响应消息
	Details any    `json:"details,omitempty"`  // 错误附加信息
	TraceID string `json:"trace_id,omitempty"` // 追踪ID（可选）
}

// Success 创建成功响应
func Success(data any) *Response {
	return &Response{Code: http.StatusOK, Data: data, Message: "success"}
}

// Fail 创建失败响应
func Fail(code int, message string) *Response {
	return &Response{Code: code, Message: message}
}

// WithTraceID 设置追踪ID
func (r *Response) WithTraceID(traceID string) *Response {
	r.TraceID = traceID
	return r
}

func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Success(data).WithTraceID(c.GetString(middleware.TraceIDKey)))
}

// respondError 业务错误按其 HTTP 状态码输出，其余错误按 500 处理
func respondError(c *gin.Context, err error) {
	e := errors.From(err, errors.ErrServer)
	status := e.HttpCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	resp := Fail(e.Code, e.Message).WithTraceID(c.GetString(middleware.TraceIDKey))
	if len(e.Details) > 0 {
		resp.Details = e.Details
	}
	c.AbortWithStatusJSON(status, resp)
}
