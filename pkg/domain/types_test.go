package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tabkeeper/pkg/domain"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"零值", 0, "0s"},
		{"负值", -time.Second, "0s"},
		{"不足一秒", 999 * time.Millisecond, "0s"},
		{"仅秒", 42 * time.Second, "42s"},
		{"分秒", 65000 * time.Millisecond, "1m 5s"},
		{"时分", 3700000 * time.Millisecond, "1h 1m"},
		{"天时", 90000000 * time.Millisecond, "1d 1h"},
		{"整天", 48 * time.Hour, "2d 0h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.FormatUptime(tt.in); got != tt.want {
				t.Errorf("FormatUptime(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range domain.Modes() {
		got, err := domain.ParseMode(string(m))
		if err != nil {
			t.Errorf("ParseMode(%q) 返回错误: %v", m, err)
		}
		if got != m {
			t.Errorf("ParseMode(%q) = %q", m, got)
		}
	}

	for _, bad := range []string{"", "turbo", "Balanced"} {
		_, err := domain.ParseMode(bad)
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("ParseMode(%q) 预期 ErrInvalidConfig，实际 %v", bad, err)
		}
	}
}

func TestModeProfile(t *testing.T) {
	tests := []struct {
		mode     domain.Mode
		min, max time.Duration
		rotation time.Duration
	}{
		{domain.ModeStealth, 45 * time.Second, 90 * time.Second, 8 * time.Minute},
		{domain.ModeBalanced, 25 * time.Second, 45 * time.Second, 5 * time.Minute},
		{domain.ModeAggressive, 15 * time.Second, 30 * time.Second, 3 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			p := tt.mode.Profile()
			if p.ActivityMin != tt.min || p.ActivityMax != tt.max {
				t.Errorf("活动区间 [%v,%v]，预期 [%v,%v]", p.ActivityMin, p.ActivityMax, tt.min, tt.max)
			}
			if p.RotationInterval != tt.rotation {
				t.Errorf("轮换周期 %v，预期 %v", p.RotationInterval, tt.rotation)
			}
			if p.Description == "" {
				t.Error("描述不应为空")
			}
		})
	}

	if got := domain.Mode("bogus").Profile(); got != domain.DefaultMode.Profile() {
		t.Error("非法模式应回退到默认模式参数")
	}
}

func TestStateView_JSON(t *testing.T) {
	view := domain.StateView{
		Config: domain.DefaultConfig(),
		State: domain.StateDetail{
			RuntimeState:    domain.RuntimeState{ActivitiesCount: 3, ErrorCount: 1, TabCrashCount: 2},
			CurrentPage:     "https://example.com/",
			IsRunning:       true,
			UptimeFormatted: "1m 5s",
		},
		ModeSettings: domain.NewProfileView(domain.ModeAggressive.Profile()),
	}

	data, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("反序列化失败: %v", err)
	}

	state := raw["state"]
	for _, key := range []string{"activitiesCount", "errors", "tabCrashes", "currentPage", "isRunning", "uptimeFormatted"} {
		if _, ok := state[key]; !ok {
			t.Errorf("state 缺少字段 %s", key)
		}
	}
	interval, ok := raw["modeSettings"]["activityInterval"].([]any)
	if !ok || len(interval) != 2 || interval[0].(float64) != 15000 || interval[1].(float64) != 30000 {
		t.Errorf("activityInterval 不符合预期: %v", raw["modeSettings"]["activityInterval"])
	}
	if raw["config"]["mode"] != "balanced" {
		t.Errorf("config.mode 预期 balanced，实际 %v", raw["config"]["mode"])
	}
}
