package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 认证错误 100xx
	ErrAuthFailed   = 10003
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005

	// 讨论模块错误 300xx
	ErrResourceNotFound = 30001
	ErrNotAuthor        = 30002
	ErrInvalidState     = 30003
	ErrConflict         = 30004

	// 系统错误 500xx
	ErrServerInternal = 50001
	ErrInvalidParam   = 50002
)
