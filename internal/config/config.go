package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`
	Sqlite  struct {
		Db     string `yaml:"db"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`
	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
	} `yaml:"log"`
	Browser Browser  `yaml:"browser"`
	HTTP    HTTP     `yaml:"http"`
	Pages   []string `yaml:"pages"`
	History struct {
		RetentionDays int `yaml:"retentionDays"`
	} `yaml:"history"`
	Timing Timing `yaml:"timing"`
}

// Browser 浏览器连接配置
type Browser struct {
	DevToolsURL string   `yaml:"devToolsURL"`
	Launch      bool     `yaml:"launch"`      // 是否由守护进程自行启动浏览器
	ExecPath    string   `yaml:"execPath"`    // 空表示自动检测
	UserDataDir string   `yaml:"userDataDir"` // 需要保留登录态时必须指定
	Headless    bool     `yaml:"headless"`
	Args        []string `yaml:"args"`
}

// HTTP 控制端口配置
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Timing 协调器各类等待时长
type Timing struct {
	Heartbeat    time.Duration `yaml:"heartbeat"`
	Stats        time.Duration `yaml:"stats"`
	LoadTimeout  time.Duration `yaml:"loadTimeout"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
	SettleDelay  time.Duration `yaml:"settleDelay"`
	ForceGrace   time.Duration `yaml:"forceGrace"`
}

// DefaultPages 默认轮换页面
var DefaultPages = []string{
	"https://www.fiverr.com/",
	"https://www.fiverr.com/inbox",
	"https://www.fiverr.com/dashboard",
	"https://www.fiverr.com/sellers",
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	cfg.Sqlite.Db = "data.db"
	cfg.Sqlite.Prefix = "tabkeeper_"
	cfg.Log.Level = "info"
	cfg.Log.Writer = []string{"file", "console"}
	cfg.Browser = Browser{DevToolsURL: "http://127.0.0.1:9222"}
	cfg.HTTP = HTTP{Addr: "127.0.0.1:7465"}
	cfg.Pages = append([]string(nil), DefaultPages...)
	cfg.History.RetentionDays = 7
	cfg.Timing = Timing{
		Heartbeat:    30 * time.Second,
		Stats:        time.Second,
		LoadTimeout:  15 * time.Second,
		RetryBackoff: 10 * time.Second,
		SettleDelay:  5 * time.Second,
		ForceGrace:   2 * time.Second,
	}
	return cfg
}

// Load 读取 YAML 配置文件并覆盖默认值，path 为空时直接返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if len(c.Pages) == 0 {
		return errors.New("config: pages must not be empty")
	}
	for i, p := range c.Pages {
		if p == "" {
			return fmt.Errorf("config: pages[%d] is empty", i)
		}
	}
	if c.Browser.DevToolsURL == "" && !c.Browser.Launch {
		return errors.New("config: browser.devToolsURL is required unless browser.launch is set")
	}
	if c.HTTP.Addr == "" {
		return errors.New("config: http.addr is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	t := c.Timing
	if t.Heartbeat <= 0 || t.Stats <= 0 || t.LoadTimeout <= 0 || t.RetryBackoff <= 0 || t.SettleDelay <= 0 || t.ForceGrace < 0 {
		return errors.New("config: timing values must be positive")
	}
	return nil
}
