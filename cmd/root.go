package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tabkeeper/cmd/flags"
)

// NewRootCmd returns a new root command
func NewRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "tabkeeper",
		Short:         "Keeps a web session alive from a background browser tab",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// Execute 构建命令树并执行，由 main 调用
func Execute() {
	rootCmd := BuildRoot()

	err := rootCmd.Execute()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// BuildRoot 创建带全部子命令的根命令
func BuildRoot() *cobra.Command {
	rootCmd := NewRootCmd()
	globalFlags := flags.SetGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(NewServeCmd(globalFlags))
	rootCmd.AddCommand(NewStartCmd(globalFlags))
	rootCmd.AddCommand(NewStopCmd(globalFlags))
	rootCmd.AddCommand(NewStatusCmd(globalFlags))
	rootCmd.AddCommand(NewConfigCmd(globalFlags))
	rootCmd.AddCommand(NewResetCmd(globalFlags))
	rootCmd.AddCommand(NewForceActivityCmd(globalFlags))
	rootCmd.AddCommand(NewForceRotationCmd(globalFlags))
	rootCmd.AddCommand(NewHistoryCmd(globalFlags))
	rootCmd.AddCommand(NewDashboardCmd(globalFlags))
	return rootCmd
}
