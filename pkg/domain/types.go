package domain

import (
	"fmt"
	"time"
)

// TabID 受管标签页的目标ID
type TabID string

// Mode 运行模式，决定活动节奏与页面轮换周期
type Mode string

const (
	ModeStealth    Mode = "stealth"
	ModeBalanced   Mode = "balanced"
	ModeAggressive Mode = "aggressive"
)

// DefaultMode 未知或缺失模式时的回退值
const DefaultMode = ModeBalanced

// ModeProfile 模式对应的固定节奏参数
type ModeProfile struct {
	ActivityMin      time.Duration
	ActivityMax      time.Duration
	RotationInterval time.Duration
	Description      string
}

var profiles = map[Mode]ModeProfile{
	ModeStealth: {
		ActivityMin:      45 * time.Second,
		ActivityMax:      90 * time.Second,
		RotationInterval: 8 * time.Minute,
		Description:      "Stealth mode - infrequent, randomized activity",
	},
	ModeBalanced: {
		ActivityMin:      25 * time.Second,
		ActivityMax:      45 * time.Second,
		RotationInterval: 5 * time.Minute,
		Description:      "Balanced mode - trade-off between presence and discretion",
	},
	ModeAggressive: {
		ActivityMin:      15 * time.Second,
		ActivityMax:      30 * time.Second,
		RotationInterval: 3 * time.Minute,
		Description:      "Aggressive mode - maximum online presence",
	},
}

// ParseMode 解析模式字符串，仅接受三种已定义模式
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := profiles[m]; !ok {
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
	}
	return m, nil
}

// Valid 判断模式是否合法
func (m Mode) Valid() bool {
	_, ok := profiles[m]
	return ok
}

// Profile 返回模式对应的节奏参数，非法模式返回默认模式的参数
func (m Mode) Profile() ModeProfile {
	if p, ok := profiles[m]; ok {
		return p
	}
	return profiles[DefaultMode]
}

// Modes 返回所有模式（按节奏由慢到快）
func Modes() []Mode {
	return []Mode{ModeStealth, ModeBalanced, ModeAggressive}
}

// Config 用户可修改的配置，持久化为 keepAliveConfig
type Config struct {
	Enabled       bool `json:"enabled"`
	Mode          Mode `json:"mode"`
	Notifications bool `json:"notifications"`
	AutoRestart   bool `json:"autoRestart"`
	SmartRotation bool `json:"smartRotation"`
}

// DefaultConfig 首次运行时的默认配置
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Mode:          DefaultMode,
		Notifications: true,
		AutoRestart:   true,
		SmartRotation: true,
	}
}

// RuntimeState 运行时状态，仅由协调器修改，持久化为 keepAliveState
type RuntimeState struct {
	TabID            TabID      `json:"tabId,omitempty"`
	CurrentPageIndex int        `json:"currentPageIndex"`
	LastActivity     *time.Time `json:"lastActivity,omitempty"`
	ActivitiesCount  int64      `json:"activitiesCount"`
	ErrorCount       int64      `json:"errors"`
	TabCrashCount    int64      `json:"tabCrashes"`
	UptimeMS         int64      `json:"uptime"`
	StartTime        *time.Time `json:"startTime,omitempty"`
}

// Uptime 以 Duration 形式返回运行时长
func (s RuntimeState) Uptime() time.Duration {
	return time.Duration(s.UptimeMS) * time.Millisecond
}

// ActivityRequest 协调器下发给活动模拟器的请求
type ActivityRequest struct {
	Mode      Mode  `json:"mode"`
	Timestamp int64 `json:"timestamp"`
	Forced    bool  `json:"forced"`
}

// ProfileView 模式参数的对外视图（毫秒）
type ProfileView struct {
	ActivityInterval [2]int64 `json:"activityInterval"`
	RotationInterval int64    `json:"rotationInterval"`
	Description      string   `json:"description"`
}

// NewProfileView 转换模式参数为对外视图
func NewProfileView(p ModeProfile) ProfileView {
	return ProfileView{
		ActivityInterval: [2]int64{p.ActivityMin.Milliseconds(), p.ActivityMax.Milliseconds()},
		RotationInterval: p.RotationInterval.Milliseconds(),
		Description:      p.Description,
	}
}

// StateDetail 运行时状态加派生字段
type StateDetail struct {
	RuntimeState
	CurrentPage     string `json:"currentPage"`
	IsRunning       bool   `json:"isRunning"`
	UptimeFormatted string `json:"uptimeFormatted"`
}

// StateView getState 返回的只读快照
type StateView struct {
	Config       Config      `json:"config"`
	State        StateDetail `json:"state"`
	ModeSettings ProfileView `json:"modeSettings"`
}

// EventKind 活动历史事件类型
type EventKind string

const (
	EventActivity   EventKind = "activity"
	EventRotation   EventKind = "rotation"
	EventTabCreated EventKind = "tab_created"
	EventTabLost    EventKind = "tab_lost"
	EventError      EventKind = "error"
	EventStarted    EventKind = "started"
	EventStopped    EventKind = "stopped"
)

// ActivityEvent 活动历史中的一条记录
type ActivityEvent struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	Page      string    `json:"page,omitempty"`
	TabID     TabID     `json:"tabId,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// FormatUptime 仅以最大的适用单位格式化运行时长
func FormatUptime(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
