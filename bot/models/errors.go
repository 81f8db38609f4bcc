package models

import "errors"

var (
	// ErrConfiguration 缺少或无效的必需配置
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthentication token 无法解析为有效的机器人身份
	ErrAuthentication = errors.New("authentication error")

	// ErrHandler 单个 update 的处理或发送失败
	ErrHandler = errors.New("handler error")

	// ErrShutdown 关闭过程中的失败
	ErrShutdown = errors.New("shutdown error")

	// ErrPolling update 通道在运行期间意外关闭
	ErrPolling = errors.New("polling error")

	ErrAlreadyStarted = errors.New("agent already started")
	ErrStopped        = errors.New("agent stopped")
)
