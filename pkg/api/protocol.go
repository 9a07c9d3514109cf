package api

import (
	"context"
	"encoding/json"

	"tabkeeper/pkg/domain"
)

// 命令名称
const (
	ActionStart            = "start"
	ActionStop             = "stop"
	ActionGetState         = "getState"
	ActionUpdateConfig     = "updateConfig"
	ActionResetStats       = "resetStats"
	ActionForceActivity    = "forceActivity"
	ActionForceRotation    = "forceRotation"
	ActionActivityComplete = "activityComplete"
	ActionGetHistory       = "getHistory"
)

// Request 控制端发出的命令
type Request struct {
	Action string          `json:"action"`
	Config json.RawMessage `json:"config,omitempty"` // updateConfig 的部分配置
	Limit  int             `json:"limit,omitempty"`  // getHistory 的条数
}

// Response 命令的统一响应
type Response struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	State   *domain.StateView      `json:"state,omitempty"`
	Config  *domain.Config         `json:"config,omitempty"`
	Events  []domain.ActivityEvent `json:"events,omitempty"`
}

// OK 构造成功响应
func OK() Response {
	return Response{Success: true}
}

// Fail 构造失败响应
func Fail(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// Service 协调器对外暴露的操作
type Service interface {
	// Start 启动保活
	Start(ctx context.Context) (domain.StateView, error)

	// Stop 停止保活
	Stop(ctx context.Context) (domain.StateView, error)

	// GetState 返回状态快照
	GetState() domain.StateView

	// UpdateConfig 合并部分配置
	UpdateConfig(ctx context.Context, partial json.RawMessage) (domain.Config, error)

	// ResetStats 重置统计
	ResetStats(ctx context.Context) error

	// ForceActivity 立即执行一次活动
	ForceActivity(ctx context.Context) error

	// ForceRotation 立即轮换页面
	ForceRotation(ctx context.Context) error

	// ActivityComplete 外部模拟器上报一次完成的活动
	ActivityComplete(ctx context.Context) error

	// History 返回最近的活动历史
	History(ctx context.Context, limit int) ([]domain.ActivityEvent, error)
}
