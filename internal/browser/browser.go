package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"tabkeeper/internal/logger"
	"tabkeeper/pkg/domain"
)

// Options 浏览器启动选项
type Options struct {
	ExecPath            string   // 浏览器可执行文件路径
	UserDataDir         string   // 用户数据目录，保留登录态时必须指定
	RemoteDebuggingPort int      // CDP端口，0表示优先 9222
	Headless            bool     // 是否以无头模式启动
	Args                []string // 额外启动参数
	Logger              logger.Logger
}

// Browser 已启动的浏览器进程句柄
type Browser struct {
	cmd         *exec.Cmd
	DevToolsURL string
	port        int
	tempDir     string
	log         logger.Logger
}

// Start 启动浏览器并等待CDP服务就绪
func Start(ctx context.Context, opts Options) (*Browser, error) {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	l = l.With("component", "browser")

	exe := opts.ExecPath
	if exe == "" {
		exe = defaultChromePath()
	}
	if exe == "" {
		return nil, fmt.Errorf("%w: chrome executable not found", domain.ErrBrowserStartFailed)
	}

	port := opts.RemoteDebuggingPort
	if port == 0 {
		port = 9222
	}
	port, err := pickPort(port)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBrowserStartFailed, err)
	}

	b := &Browser{port: port, log: l, DevToolsURL: fmt.Sprintf("http://127.0.0.1:%d", port)}
	dataDir := opts.UserDataDir
	if dataDir == "" {
		// 临时目录，退出时清理
		dir, err := os.MkdirTemp("", "tabkeeper-chrome-")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBrowserStartFailed, err)
		}
		dataDir, b.tempDir = dir, dir
	} else if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBrowserStartFailed, err)
	}

	// 浏览器生命周期独立于启动上下文，由 Stop 负责结束
	b.cmd = exec.Command(exe, buildLaunchArgs(port, dataDir, opts)...)
	if err := b.cmd.Start(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("%w: %v", domain.ErrBrowserStartFailed, err)
	}
	l.Info("浏览器进程已启动", "exe", exe, "pid", b.cmd.Process.Pid, "port", port)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := waitDevToolsReady(waitCtx, b.DevToolsURL); err != nil {
		_ = b.Stop(2 * time.Second)
		return nil, fmt.Errorf("%w: %v", domain.ErrBrowserStartFailed, err)
	}
	return b, nil
}

// Stop 关闭浏览器进程
func (b *Browser) Stop(timeout time.Duration) error {
	if b == nil || b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	defer b.cleanup()

	done := make(chan error, 1)
	go func() { done <- b.cmd.Wait() }()
	// Windows上直接Kill以避免悬挂
	_ = b.cmd.Process.Kill()
	select {
	case <-time.After(timeout):
		return errors.New("browser stop timeout")
	case err := <-done:
		b.log.Info("浏览器进程已退出")
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	}
}

func (b *Browser) cleanup() {
	if b.tempDir != "" {
		_ = os.RemoveAll(b.tempDir)
		b.tempDir = ""
	}
}

// defaultChromePath 返回常见的 Chrome 可执行路径（跨平台）
func defaultChromePath() string {
	for _, p := range getChromePaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, name := range []string{"chrome", "google-chrome", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// getChromePaths 根据操作系统返回可能的 Chrome 路径
func getChromePaths() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(os.Getenv("ProgramFiles"), "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(os.Getenv("ProgramFiles(x86)"), "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(os.Getenv("LOCALAPPDATA"), "Google", "Chrome", "Application", "chrome.exe"),
		}
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			filepath.Join(os.Getenv("HOME"), "Applications", "Google Chrome.app", "Contents", "MacOS", "Google Chrome"),
		}
	case "linux":
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	default:
		return nil
	}
}

// pickPort 尝试使用指定端口，如果被占用则选择随机空闲端口
func pickPort(preferred int) (int, error) {
	if preferred > 0 {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", preferred))
		if err == nil {
			_ = l.Close()
			return preferred, nil
		}
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// buildLaunchArgs 构建浏览器启动参数
//
// 保活依赖后台标签页持续运行计时器和渲染，因此关闭了所有后台节流。
func buildLaunchArgs(port int, dataDir string, opts Options) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", dataDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--disable-features=CalculateNativeWinOcclusion,IntensiveWakeUpThrottling",
		"--disable-breakpad",
		"--disable-hang-monitor",
		"--disable-prompt-on-repost",
		"--disable-sync",
		"--metrics-recording-only",
	}

	if runtime.GOOS == "linux" {
		args = append(args, "--disable-dev-shm-usage")
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	return append(args, opts.Args...)
}

// waitDevToolsReady 轮询 DevTools 服务是否就绪
func waitDevToolsReady(ctx context.Context, base string) error {
	url := fmt.Sprintf("%s/json/version", base)
	cli := &http.Client{Timeout: 500 * time.Millisecond}
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("devtools not ready after timeout: %w", ctx.Err())
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				continue
			}
			resp, err := cli.Do(req)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}
