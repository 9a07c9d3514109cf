package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tabkeeper/internal/config"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := config.NewConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置校验失败: %v", err)
	}
	if len(cfg.Pages) != 4 {
		t.Errorf("预期 4 个轮换页面，实际 %d", len(cfg.Pages))
	}
	if cfg.Timing.Heartbeat != 30*time.Second {
		t.Errorf("心跳间隔预期 30s，实际 %v", cfg.Timing.Heartbeat)
	}
	if cfg.Timing.LoadTimeout != 15*time.Second {
		t.Errorf("加载超时预期 15s，实际 %v", cfg.Timing.LoadTimeout)
	}

	// 修改返回值不应影响默认页面列表
	cfg.Pages[0] = "changed"
	if config.DefaultPages[0] == "changed" {
		t.Error("NewConfig 返回的 Pages 与 DefaultPages 共享底层数组")
	}
}

func TestLoad(t *testing.T) {
	t.Run("空路径返回默认配置", func(t *testing.T) {
		cfg, err := config.Load("")
		if err != nil {
			t.Fatalf("Load 失败: %v", err)
		}
		if cfg.HTTP.Addr == "" {
			t.Error("HTTP 地址不应为空")
		}
	})

	t.Run("文件覆盖默认值", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tabkeeper.yaml")
		content := `
log:
  level: debug
pages:
  - https://example.com/a
  - https://example.com/b
timing:
  heartbeat: 10s
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := config.Load(path)
		if err != nil {
			t.Fatalf("Load 失败: %v", err)
		}
		if cfg.Log.Level != "debug" {
			t.Errorf("日志级别预期 debug，实际 %s", cfg.Log.Level)
		}
		if len(cfg.Pages) != 2 || cfg.Pages[1] != "https://example.com/b" {
			t.Errorf("页面列表未被覆盖: %v", cfg.Pages)
		}
		if cfg.Timing.Heartbeat != 10*time.Second {
			t.Errorf("心跳间隔预期 10s，实际 %v", cfg.Timing.Heartbeat)
		}
		// 未覆盖的字段保持默认
		if cfg.Timing.Stats != time.Second {
			t.Errorf("统计间隔预期保持 1s，实际 %v", cfg.Timing.Stats)
		}
	})

	t.Run("空页面列表报错", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("pages: []\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := config.Load(path); err == nil {
			t.Error("预期空页面列表返回错误")
		}
	})

	t.Run("文件不存在", func(t *testing.T) {
		if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("预期文件不存在时返回错误")
		}
	})
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Log.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("预期未知日志级别返回错误")
	}
}
