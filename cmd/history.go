package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tabkeeper/cmd/flags"
	"tabkeeper/internal/dashboard"
)

// NewHistoryCmd 创建 history 命令
func NewHistoryCmd(f *flags.GlobalFlags) *cobra.Command {
	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists recent keep-alive events",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			c, err := newClient(f)
			if err != nil {
				return err
			}
			events, err := c.History(cobraCmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				printErr("no events recorded\n")
				return nil
			}
			// 最新的在最后
			for i := len(events) - 1; i >= 0; i-- {
				e := events[i]
				line := fmt.Sprintf("%s  %-11s %s", time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04:05"), e.Kind, e.Message)
				if e.Page != "" {
					line += "  [" + dashboard.FormatPage(e.Page) + "]"
				}
				if e.Error != "" {
					line += "  error: " + e.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")
	return historyCmd
}
