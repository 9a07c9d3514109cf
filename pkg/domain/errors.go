package domain

import "errors"

// 协议相关错误
var (
	ErrUnknownAction = errors.New("Unknown action")
	ErrInvalidConfig = errors.New("invalid config")
)

// 标签页相关错误
var (
	ErrNoTab          = errors.New("No tab available for activity")
	ErrTabNotFound    = errors.New("tab not found")
	ErrTabLoadTimeout = errors.New("Tab load timeout")
)

// 连接相关错误
var (
	ErrDevToolsUnreachable = errors.New("devtools unreachable")
)

// 浏览器相关错误
var (
	ErrBrowserStartFailed = errors.New("browser start failed")
)
