package model

import (
	"time"
)

// Setting 键值设置表，协调器的配置与状态各占一行
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`  // 设置键
	Value     string    `gorm:"type:text" json:"value"` // JSON 值
	UpdatedAt time.Time `json:"updatedAt"`              // 更新时间
}

// 预定义的设置 Key
const (
	SettingKeyConfig = "keepAliveConfig" // 用户配置
	SettingKeyState  = "keepAliveState"  // 运行时状态
)

// ActivityRecord 活动历史表
type ActivityRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	EventID   string    `gorm:"uniqueIndex;not null" json:"id"` // 事件业务ID
	Kind      string    `gorm:"index" json:"kind"`              // activity / rotation / tab_created ...
	Message   string    `json:"message"`
	Page      string    `json:"page"`
	TabID     string    `json:"tabId"`
	Forced    bool      `json:"forced"`
	Error     string    `gorm:"type:text" json:"error"`
	Timestamp int64     `gorm:"index" json:"timestamp"` // 毫秒时间戳
	CreatedAt time.Time `json:"createdAt"`
}
