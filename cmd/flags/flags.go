package flags

import (
	flag "github.com/spf13/pflag"
)

// GlobalFlags 所有子命令共享的参数
type GlobalFlags struct {
	ConfigPath string
	Addr       string
	Debug      bool
}

// SetGlobalFlags 注册全局参数
func SetGlobalFlags(flags *flag.FlagSet) *GlobalFlags {
	globalFlags := &GlobalFlags{}

	flags.StringVarP(&globalFlags.ConfigPath, "config", "c", "", "Path to the YAML config file. You can also use TABKEEPER_CONFIG to set this")
	flags.StringVar(&globalFlags.Addr, "addr", "", "Address of the daemon command port, overrides http.addr from the config")
	flags.BoolVar(&globalFlags.Debug, "debug", false, "Enable debug logging")
	return globalFlags
}
