package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tabkeeper/cmd/flags"
	"tabkeeper/internal/daemon"
	"tabkeeper/internal/logger"
)

// ServeCmd holds the serve cmd flags
type ServeCmd struct {
	*flags.GlobalFlags

	Launch bool
}

// NewServeCmd 创建守护进程命令
func NewServeCmd(f *flags.GlobalFlags) *cobra.Command {
	cmd := &ServeCmd{GlobalFlags: f}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the keep-alive daemon",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context())
		},
	}
	serveCmd.Flags().BoolVar(&cmd.Launch, "launch", false, "Launch a dedicated browser instead of attaching to browser.devToolsURL")
	return serveCmd
}

// Run runs the command logic
func (cmd *ServeCmd) Run(ctx context.Context) error {
	cfg, err := loadConfig(cmd.GlobalFlags)
	if err != nil {
		return err
	}
	if cmd.Launch {
		cfg.Browser.Launch = true
	}
	if cmd.Addr != "" {
		cfg.HTTP.Addr = cmd.Addr
	}
	level := cfg.Log.Level
	if cmd.Debug {
		level = "debug"
	}
	log := logger.New(logger.Options{Level: level, Writers: cfg.Log.Writer})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := daemon.NewApp(cfg, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		app.Shutdown(shutdownCtx)
	}()

	if err := app.Startup(ctx); err != nil {
		log.Err(err, "守护进程启动失败")
		return err
	}
	return app.Run(ctx)
}
