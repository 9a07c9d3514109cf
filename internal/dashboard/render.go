package dashboard

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"tabkeeper/pkg/domain"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	labelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	selectedMode = lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
	normalMode   = lipgloss.NewStyle().Padding(0, 1)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// FormatPage 把页面地址缩写为便于展示的名称
func FormatPage(raw string) string {
	if raw == "" {
		return "-"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return truncate(raw, 20)
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "Home"
	}
	return truncate(path, 20)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// LastActivity 以相对时间描述上次活动
func LastActivity(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.RelTime(*t, now, "ago", "from now")
}

// RenderStatus 渲染一次性状态摘要
func RenderStatus(v domain.StateView, now time.Time) string {
	var b strings.Builder

	status := idleStyle.Render("● Inactive")
	if v.State.IsRunning {
		status = activeStyle.Render("● Active")
	}
	b.WriteString(status)
	b.WriteString("  ")
	b.WriteString(dimStyle.Render(string(v.Config.Mode) + " · " + v.ModeSettings.Description))
	b.WriteString("\n\n")

	errors := fmt.Sprint(v.State.ErrorCount)
	if v.State.ErrorCount > 0 {
		errors = errStyle.Render(errors)
	}
	rows := [][2]string{
		{"Uptime", v.State.UptimeFormatted},
		{"Activities", humanize.Comma(v.State.ActivitiesCount)},
		{"Current page", FormatPage(v.State.CurrentPage)},
		{"Last activity", LastActivity(v.State.LastActivity, now)},
		{"Errors", errors},
		{"Tab crashes", fmt.Sprint(v.State.TabCrashCount)},
	}
	for _, r := range rows {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", r[0])))
		b.WriteString(r[1])
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", "Settings")))
	b.WriteString(fmt.Sprintf("autoRestart=%s smartRotation=%s notifications=%s",
		onOff(v.Config.AutoRestart), onOff(v.Config.SmartRotation), onOff(v.Config.Notifications)))
	return b.String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func renderModes(current domain.Mode) string {
	parts := make([]string, 0, 3)
	for _, m := range domain.Modes() {
		if m == current {
			parts = append(parts, selectedMode.Render(string(m)))
		} else {
			parts = append(parts, normalMode.Render(string(m)))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func renderEvents(events []domain.ActivityEvent) string {
	if len(events) == 0 {
		return dimStyle.Render("--:--:-- no events")
	}
	var b strings.Builder
	for i, e := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		line := fmt.Sprintf("%s %-11s %s", time.UnixMilli(e.Timestamp).Format("15:04:05"), e.Kind, e.Message)
		if e.Error != "" {
			line = errStyle.Render(line + ": " + e.Error)
		}
		b.WriteString(line)
	}
	return b.String()
}
