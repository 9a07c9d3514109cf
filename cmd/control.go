package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tabkeeper/cmd/flags"
	"tabkeeper/internal/client"
	"tabkeeper/internal/dashboard"
)

// newActionCmd 创建只发送一条命令的子命令
func newActionCmd(f *flags.GlobalFlags, use, short string, run func(ctx context.Context, c *client.Client) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			c, err := newClient(f)
			if err != nil {
				return err
			}
			return run(cobraCmd.Context(), c)
		},
	}
}

// NewStartCmd 创建 start 命令
func NewStartCmd(f *flags.GlobalFlags) *cobra.Command {
	return newActionCmd(f, "start", "Starts keeping the session alive", func(ctx context.Context, c *client.Client) error {
		view, err := c.Start(ctx)
		if err != nil {
			return err
		}
		fmt.Println(dashboard.RenderStatus(view, time.Now()))
		return nil
	})
}

// NewStopCmd 创建 stop 命令
func NewStopCmd(f *flags.GlobalFlags) *cobra.Command {
	return newActionCmd(f, "stop", "Stops keeping the session alive and closes the managed tab", func(ctx context.Context, c *client.Client) error {
		view, err := c.Stop(ctx)
		if err != nil {
			return err
		}
		fmt.Println(dashboard.RenderStatus(view, time.Now()))
		return nil
	})
}

// NewStatusCmd 创建 status 命令
func NewStatusCmd(f *flags.GlobalFlags) *cobra.Command {
	return newActionCmd(f, "status", "Shows the current keep-alive status", func(ctx context.Context, c *client.Client) error {
		view, err := c.State(ctx)
		if err != nil {
			return err
		}
		fmt.Println(dashboard.RenderStatus(view, time.Now()))
		return nil
	})
}

// NewResetCmd 创建 reset 命令
func NewResetCmd(f *flags.GlobalFlags) *cobra.Command {
	return newActionCmd(f, "reset", "Resets the activity statistics", func(ctx context.Context, c *client.Client) error {
		if err := c.ResetStats(ctx); err != nil {
			return err
		}
		fmt.Println("Statistics reset")
		return nil
	})
}

// NewForceActivityCmd 创建 force-activity 命令
func NewForceActivityCmd(f *flags.GlobalFlags) *cobra.Command {
	return newActionCmd(f, "force-activity", "Performs one activity cycle now", func(ctx context.Context, c *client.Client) error {
		if err := c.ForceActivity(ctx); err != nil {
			return err
		}
		fmt.Println("Activity performed")
		return nil
	})
}

// NewForceRotationCmd 创建 force-rotation 命令
func NewForceRotationCmd(f *flags.GlobalFlags) *cobra.Command {
	return newActionCmd(f, "force-rotation", "Navigates the managed tab to the next page now", func(ctx context.Context, c *client.Client) error {
		if err := c.ForceRotation(ctx); err != nil {
			return err
		}
		fmt.Println("Page rotated")
		return nil
	})
}

// NewDashboardCmd 创建 dashboard 命令
func NewDashboardCmd(f *flags.GlobalFlags) *cobra.Command {
	return newActionCmd(f, "dashboard", "Opens the live terminal dashboard", func(ctx context.Context, c *client.Client) error {
		return dashboard.Run(c)
	})
}
