package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"tabkeeper/internal/browser"
	"tabkeeper/internal/cdp"
	"tabkeeper/internal/config"
	"tabkeeper/internal/httpapi"
	"tabkeeper/internal/keeper"
	"tabkeeper/internal/logger"
	"tabkeeper/internal/simulator"
	"tabkeeper/internal/storage/db"
	"tabkeeper/internal/storage/model"
	"tabkeeper/internal/storage/repo"
	"tabkeeper/internal/tab"
	"tabkeeper/pkg/domain"

	"gorm.io/gorm"
	gl "gorm.io/gorm/logger"
)

// App 组装并持有守护进程的全部组件
type App struct {
	cfg *config.Config
	log logger.Logger

	gdb          *gorm.DB
	settingsRepo *repo.SettingsRepo
	activityRepo *repo.ActivityRepo
	browser      *browser.Browser
	cdp          *cdp.ClientManager
	tabs         *tab.Handle
	keeper       *keeper.Coordinator
	server       *http.Server
	cancelWatch  context.CancelFunc
}

// NewApp 创建守护进程
func NewApp(cfg *config.Config, l logger.Logger) *App {
	if l == nil {
		l = logger.NewNop()
	}
	return &App{cfg: cfg, log: l}
}

// Startup 初始化持久化层、连接浏览器并恢复协调器
func (a *App) Startup(ctx context.Context) error {
	a.log.Info("守护进程启动", "version", a.cfg.Version)

	if err := a.openStorage(ctx); err != nil {
		return err
	}

	devToolsURL := a.cfg.Browser.DevToolsURL
	if a.cfg.Browser.Launch {
		b, err := browser.Start(ctx, browser.Options{
			ExecPath:    a.cfg.Browser.ExecPath,
			UserDataDir: a.cfg.Browser.UserDataDir,
			Headless:    a.cfg.Browser.Headless,
			Args:        a.cfg.Browser.Args,
			Logger:      a.log,
		})
		if err != nil {
			return err
		}
		a.browser = b
		devToolsURL = b.DevToolsURL
	}

	a.cdp = cdp.NewClientManager(devToolsURL, a.log)
	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := a.cdp.TestConnection(testCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrDevToolsUnreachable, devToolsURL, err)
	}
	a.log.Info("已连接浏览器", "devToolsURL", devToolsURL)

	a.tabs = tab.New(tab.NewCDPBrowser(a.cdp), tab.Options{
		LoadTimeout: a.cfg.Timing.LoadTimeout,
		Logger:      a.log,
	})
	sim := simulator.New(func(ctx context.Context, id domain.TabID) (simulator.Driver, error) {
		p, err := a.tabs.Page(ctx, id)
		if err != nil {
			return nil, err
		}
		return p, nil
	}, simulator.Options{Logger: a.log})

	k, err := keeper.New(keeper.Options{
		Tabs:      a.tabs,
		Simulator: sim,
		Store:     a.settingsRepo,
		History:   a.activityRepo,
		Notifier:  keeper.NewLogNotifier(a.log),
		Logger:    a.log,
		Pages:     a.cfg.Pages,
		Timing: keeper.Timing{
			Heartbeat:    a.cfg.Timing.Heartbeat,
			Stats:        a.cfg.Timing.Stats,
			RetryBackoff: a.cfg.Timing.RetryBackoff,
			SettleDelay:  a.cfg.Timing.SettleDelay,
			ForceGrace:   a.cfg.Timing.ForceGrace,
		},
	})
	if err != nil {
		return err
	}
	a.keeper = k

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	a.cancelWatch = cancelWatch
	a.tabs.Watch(watchCtx, k.HandleTabRemoved)

	if err := k.Init(ctx); err != nil {
		return err
	}

	a.server = &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           httpapi.NewServer(k, a.log).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// openStorage 打开数据库并清理过期历史
func (a *App) openStorage(ctx context.Context) error {
	opts := db.Options{
		Name:   a.cfg.Sqlite.Db,
		Prefix: a.cfg.Sqlite.Prefix,
		Logger: db.NewLogger(a.log).LogMode(gl.Warn),
	}
	if filepath.IsAbs(a.cfg.Sqlite.Db) {
		opts.FullPath = a.cfg.Sqlite.Db
	}
	gdb, err := db.New(opts)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(gdb, &model.Setting{}, &model.ActivityRecord{}); err != nil {
		_ = db.Close(gdb)
		return fmt.Errorf("migrate database: %w", err)
	}

	a.gdb = gdb
	a.settingsRepo = repo.NewSettingsRepo(gdb)
	a.activityRepo = repo.NewActivityRepo(gdb, a.log)
	if n, err := a.activityRepo.CleanupOld(ctx, a.cfg.History.RetentionDays); err != nil {
		a.log.Err(err, "清理过期历史失败")
	} else if n > 0 {
		a.log.Info("已清理过期历史", "rows", n)
	}
	a.log.Debug("数据持久化层初始化完成")
	return nil
}

// Run 监听命令端口直到 ctx 结束
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	a.log.Info("命令端口已就绪", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown 按依赖顺序释放资源
func (a *App) Shutdown(ctx context.Context) {
	a.log.Info("守护进程关闭中...")

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Err(err, "关闭命令端口失败")
		}
	}
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	if a.keeper != nil {
		if err := a.keeper.Close(); err != nil {
			a.log.Err(err, "关闭协调器失败")
		}
	}
	if a.cdp != nil {
		_ = a.cdp.Close()
	}
	if a.browser != nil {
		_ = a.browser.Stop(2 * time.Second)
	}
	if a.activityRepo != nil {
		a.activityRepo.Stop()
	}
	if a.gdb != nil {
		_ = db.Close(a.gdb)
	}

	a.log.Info("守护进程已关闭")
}
