package keeper

import "tabkeeper/internal/logger"

// Notifier 面向用户的提示
type Notifier interface {
	Notify(title, message string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}

// LogNotifier 以日志形式输出提示
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier 创建日志提示器
func NewLogNotifier(l logger.Logger) *LogNotifier {
	if l == nil {
		l = logger.NewNop()
	}
	return &LogNotifier{log: l.With("component", "notice")}
}

// Notify 输出一条提示
func (n *LogNotifier) Notify(title, message string) {
	n.log.Warn(message, "title", title)
}
