package tab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"tabkeeper/internal/cdp"
	"tabkeeper/internal/logger"
	"tabkeeper/pkg/domain"
	"tabkeeper/pkg/errx"

	"k8s.io/utils/clock"
)

// Page 受管标签页内可用的页面操作
type Page interface {
	Navigate(ctx context.Context, url string) error
	ReadyState(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expr string) (json.RawMessage, error)
	MouseMove(ctx context.Context, x, y float64) error
	Wheel(ctx context.Context, x, y, dx, dy float64) error
	Key(ctx context.Context, key, code string, keyCode int) error
}

// Browser 标签页句柄依赖的浏览器操作
type Browser interface {
	CreateTarget(ctx context.Context, url string) (domain.TabID, error)
	CloseTarget(ctx context.Context, id domain.TabID) error
	HasTarget(ctx context.Context, id domain.TabID) (bool, error)
	Page(ctx context.Context, id domain.TabID) (Page, error)
	DetachPage(id domain.TabID) error
	WatchTargets(ctx context.Context, onGone func(id domain.TabID, crashed bool)) error
}

// Options 标签页句柄选项
type Options struct {
	LoadTimeout   time.Duration // 等待 readyState == complete 的上限
	PollInterval  time.Duration
	HealthTimeout time.Duration // 渲染进程应答的上限
	WatchRetry    time.Duration // 事件订阅中断后的重试间隔
	Clock         clock.Clock
	Logger        logger.Logger
}

func (o *Options) setDefaults() {
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 15 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = 5 * time.Second
	}
	if o.WatchRetry <= 0 {
		o.WatchRetry = 2 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
}

// Handle 受管标签页句柄，同一时刻最多跟踪一个标签页
type Handle struct {
	browser Browser
	opts    Options
	log     logger.Logger

	mu     sync.Mutex
	id     domain.TabID
	closed map[domain.TabID]struct{} // 自己关闭的标签页，其销毁事件不上报
}

// New 创建标签页句柄
func New(b Browser, opts Options) *Handle {
	opts.setDefaults()
	return &Handle{
		browser: b,
		opts:    opts,
		log:     opts.Logger.With("component", "tab"),
		closed:  make(map[domain.TabID]struct{}),
	}
}

// ID 返回当前跟踪的标签页，没有时为空
func (h *Handle) ID() domain.TabID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

// Acquire 关闭旧标签页后在后台新建一个并等待加载完成
//
// 加载超时时标签页仍被跟踪，返回其 ID 以及 TAB_LOAD_TIMEOUT 错误。
func (h *Handle) Acquire(ctx context.Context, url string) (domain.TabID, error) {
	if err := h.Release(ctx); err != nil {
		h.log.Warn("关闭旧标签页失败，继续创建", "error", err.Error())
	}

	id, err := h.browser.CreateTarget(ctx, url)
	if err != nil {
		return "", fmt.Errorf("create tab: %w", err)
	}
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
	h.log.Info("标签页已创建", "tabId", string(id), "url", url)

	if err := h.waitLoaded(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

// Navigate 在当前标签页中跳转并等待加载完成
func (h *Handle) Navigate(ctx context.Context, url string) error {
	id := h.ID()
	if id == "" {
		return errx.Wrap(errx.CodeTabGone, domain.ErrNoTab, "navigate")
	}
	page, err := h.page(ctx, id)
	if err != nil {
		return err
	}
	if err := page.Navigate(ctx, url); err != nil {
		return err
	}
	return h.waitLoaded(ctx, id)
}

// Release 关闭当前标签页，标签页已不存在不算错误
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	id := h.id
	h.id = ""
	if id != "" {
		h.closed[id] = struct{}{}
	}
	h.mu.Unlock()

	if id == "" {
		return nil
	}
	if err := h.browser.CloseTarget(ctx, id); err != nil {
		if !cdp.IsGone(err) {
			return err
		}
		// 已经不存在的标签页不会再有销毁事件
		h.mu.Lock()
		delete(h.closed, id)
		h.mu.Unlock()
	}
	h.log.Debug("标签页已关闭", "tabId", string(id))
	return nil
}

// CheckHealth 检查标签页是否存在、能否应答以及是否被丢弃
func (h *Handle) CheckHealth(ctx context.Context) error {
	id := h.ID()
	if id == "" {
		return errx.Wrap(errx.CodeTabGone, domain.ErrNoTab, "health")
	}

	ok, err := h.browser.HasTarget(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errx.Wrap(errx.CodeTabGone, domain.ErrTabNotFound, "health")
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.HealthTimeout)
	defer cancel()
	page, err := h.page(ctx, id)
	if err != nil {
		return err
	}
	raw, err := page.Evaluate(ctx, "document.wasDiscarded === true")
	if err != nil {
		return errx.Wrap(errx.CodeTabGone, err, "tab unresponsive")
	}
	var discarded bool
	if err := json.Unmarshal(raw, &discarded); err != nil {
		return fmt.Errorf("decode health reply: %w", err)
	}
	if discarded {
		return errx.New(errx.CodeTabGone, "tab discarded")
	}
	return nil
}

// Page 返回指定标签页的页面会话
func (h *Handle) Page(ctx context.Context, id domain.TabID) (Page, error) {
	return h.page(ctx, id)
}

// Watch 在后台订阅标签页移除事件，只上报当前跟踪的标签页
func (h *Handle) Watch(ctx context.Context, onRemoved func(domain.TabID)) {
	go func() {
		for {
			err := h.browser.WatchTargets(ctx, func(id domain.TabID, crashed bool) {
				h.targetGone(id, crashed, onRemoved)
			})
			if ctx.Err() != nil {
				return
			}
			h.log.Warn("目标事件订阅中断，稍后重试", "error", fmt.Sprint(err))
			select {
			case <-ctx.Done():
				return
			case <-h.opts.Clock.After(h.opts.WatchRetry):
			}
		}
	}()
}

func (h *Handle) targetGone(id domain.TabID, crashed bool, onRemoved func(domain.TabID)) {
	h.mu.Lock()
	if _, ok := h.closed[id]; ok {
		if !crashed {
			delete(h.closed, id)
		}
		h.mu.Unlock()
		return
	}
	tracked := h.id == id
	if tracked {
		h.id = ""
		if crashed {
			h.closed[id] = struct{}{}
		}
	}
	h.mu.Unlock()

	if !tracked {
		return
	}
	_ = h.browser.DetachPage(id)
	if crashed {
		// 崩溃的标签页仍然存在，需要关掉
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.opts.HealthTimeout)
			defer cancel()
			_ = h.browser.CloseTarget(ctx, id)
		}()
	}
	h.log.Warn("受管标签页已移除", "tabId", string(id), "crashed", crashed)
	onRemoved(id)
}

func (h *Handle) page(ctx context.Context, id domain.TabID) (Page, error) {
	page, err := h.browser.Page(ctx, id)
	if err != nil {
		if cdp.IsGone(err) {
			return nil, errx.Wrap(errx.CodeTabGone, err, "attach tab")
		}
		return nil, err
	}
	return page, nil
}

// waitLoaded 轮询 readyState 直到 complete，超时返回 TAB_LOAD_TIMEOUT
func (h *Handle) waitLoaded(ctx context.Context, id domain.TabID) error {
	wctx, cancel := context.WithTimeout(ctx, h.opts.LoadTimeout)
	defer cancel()

	page, err := h.page(wctx, id)
	for {
		if err == nil {
			var state string
			state, err = page.ReadyState(wctx)
			if err == nil && state == "complete" {
				return nil
			}
		}
		if err != nil && cdp.IsGone(err) {
			return errx.Wrap(errx.CodeTabGone, err, "wait load")
		}

		select {
		case <-wctx.Done():
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				h.log.Debug("等待加载时出错", "tabId", string(id), "error", err.Error())
			}
			return errx.New(errx.CodeTabLoadTimeout, domain.ErrTabLoadTimeout.Error())
		case <-h.opts.Clock.After(h.opts.PollInterval):
		}
		if page == nil {
			page, err = h.page(wctx, id)
		}
	}
}
