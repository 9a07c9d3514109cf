package cmd

import (
	"os"

	"tabkeeper/cmd/flags"
	"tabkeeper/internal/client"
	"tabkeeper/internal/config"
)

// loadConfig 读取配置，--config 优先于 TABKEEPER_CONFIG
func loadConfig(f *flags.GlobalFlags) (*config.Config, error) {
	path := f.ConfigPath
	if path == "" {
		path = os.Getenv("TABKEEPER_CONFIG")
	}
	return config.Load(path)
}

// newClient 创建指向守护进程命令端口的客户端
func newClient(f *flags.GlobalFlags) (*client.Client, error) {
	if f.Addr != "" {
		return client.New(f.Addr), nil
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, err
	}
	return client.New(cfg.HTTP.Addr), nil
}
