package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"tabkeeper/cmd/flags"
	"tabkeeper/pkg/domain"
)

// ConfigCmd holds the config cmd flags
type ConfigCmd struct {
	*flags.GlobalFlags

	Mode          string
	Enabled       bool
	AutoRestart   bool
	SmartRotation bool
	Notifications bool
}

// NewConfigCmd 创建 config 命令，只提交显式设置过的参数
func NewConfigCmd(f *flags.GlobalFlags) *cobra.Command {
	cmd := &ConfigCmd{GlobalFlags: f}
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Shows or updates the keep-alive configuration",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			c, err := newClient(cmd.GlobalFlags)
			if err != nil {
				return err
			}
			ctx := cobraCmd.Context()

			patch, err := cmd.patch(cobraCmd.Flags())
			if err != nil {
				return err
			}
			var cfg domain.Config
			if len(patch) == 0 {
				view, err := c.State(ctx)
				if err != nil {
					return err
				}
				cfg = view.Config
			} else if cfg, err = c.UpdateConfig(ctx, patch); err != nil {
				return err
			}

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(configView(cfg))
		},
	}

	fs := configCmd.Flags()
	fs.StringVar(&cmd.Mode, "mode", "", "Operating mode: stealth, balanced or aggressive")
	fs.BoolVar(&cmd.Enabled, "enabled", false, "Start or stop keeping the session alive")
	fs.BoolVar(&cmd.AutoRestart, "auto-restart", true, "Recreate the tab when it is lost")
	fs.BoolVar(&cmd.SmartRotation, "smart-rotation", true, "Rotate through the configured pages")
	fs.BoolVar(&cmd.Notifications, "notifications", true, "Report tab recoveries")
	return configCmd
}

// patch 把显式设置的参数转换为部分配置
func (cmd *ConfigCmd) patch(fs *flag.FlagSet) (map[string]any, error) {
	patch := map[string]any{}
	if fs.Changed("mode") {
		mode, err := domain.ParseMode(cmd.Mode)
		if err != nil {
			return nil, err
		}
		patch["mode"] = mode
	}
	if fs.Changed("enabled") {
		patch["enabled"] = cmd.Enabled
	}
	if fs.Changed("auto-restart") {
		patch["autoRestart"] = cmd.AutoRestart
	}
	if fs.Changed("smart-rotation") {
		patch["smartRotation"] = cmd.SmartRotation
	}
	if fs.Changed("notifications") {
		patch["notifications"] = cmd.Notifications
	}
	return patch, nil
}

type configOutput struct {
	Enabled       bool   `yaml:"enabled"`
	Mode          string `yaml:"mode"`
	Description   string `yaml:"description"`
	AutoRestart   bool   `yaml:"autoRestart"`
	SmartRotation bool   `yaml:"smartRotation"`
	Notifications bool   `yaml:"notifications"`
}

func configView(cfg domain.Config) configOutput {
	return configOutput{
		Enabled:       cfg.Enabled,
		Mode:          string(cfg.Mode),
		Description:   cfg.Mode.Profile().Description,
		AutoRestart:   cfg.AutoRestart,
		SmartRotation: cfg.SmartRotation,
		Notifications: cfg.Notifications,
	}
}

func printErr(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format, args...)
}
