package request

import (
	"context"
	"net/http"
)

// Interceptor 拦截器接口
type Interceptor interface {
	BeforeRequest(ctx context.Context, req *http.Request) error
	AfterResponse(ctx context.Context, resp *Response) error
}

type authInterceptor struct {
	token func() string
}

// NewAuthInterceptor 为每个请求附加 Bearer Token
func NewAuthInterceptor(token func() string) Interceptor {
	return &authInterceptor{token: token}
}

func (a *authInterceptor) BeforeRequest(_ context.Context, req *http.Request) error {
	if t := a.token(); t != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
	return nil
}

func (a *authInterceptor) AfterResponse(context.Context, *Response) error { return nil }
