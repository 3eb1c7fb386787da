package errors

/*
	内置常用错误码
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, 500, "服务器异常", nil)
	// ErrBadRequest 客户端请求错误
	ErrBadRequest = New(1001, 400, "请求异常", nil)
	// ErrUnauthorized 未授权
	ErrUnauthorized = New(1002, 401, "授权异常", nil)
	// ErrForbidden 禁止访问
	ErrForbidden = New(1003, 403, "禁止访问", nil)
	// ErrNotFound 资源不存在
	ErrNotFound = New(1004, 404, "资源不存在", nil)
	// ErrUnavailable 服务不可用
	ErrUnavailable = New(1005, 503, "服务不可用", nil)
)

/*
	实时连接错误码
	握手阶段的错误以 HttpCode 拒绝升级；事件阶段的错误只回送给发起连接
*/

var (
	// ErrMissingCredential 握手未携带凭证
	ErrMissingCredential = New(4001, 401, "missing credential", nil)
	// ErrInvalidCredential 凭证无效
	ErrInvalidCredential = New(4002, 401, "invalid credential", nil)
	// ErrAccountDeactivated 账号已停用
	ErrAccountDeactivated = New(4003, 403, "account deactivated", nil)
	// ErrVerificationRequired 账号未验证
	ErrVerificationRequired = New(4004, 403, "verification required", nil)
	// ErrInsufficientRole 角色不足
	ErrInsufficientRole = New(4005, 403, "insufficient role", nil)
	// ErrRateLimitExceeded 超出频率限制
	ErrRateLimitExceeded = New(4029, 429, "rate limit exceeded", nil)
	// ErrRoomOperationFailed 房间操作失败
	ErrRoomOperationFailed = New(4100, 400, "room operation failed", nil)
	// ErrVerifierUnavailable 身份校验服务不可用
	ErrVerifierUnavailable = New(5030, 503, "identity verifier unavailable", nil)
)
