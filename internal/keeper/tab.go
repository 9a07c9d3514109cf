package keeper

import (
	"context"
	"errors"
	"strings"

	"tabkeeper/pkg/domain"
	"tabkeeper/pkg/errx"
)

// 标签页创建原因
const (
	reasonStart     = "start"
	reasonRecovery  = "recovery"
	reasonHeartbeat = "heartbeat"
	reasonForced    = "forced"
)

// acquireTab 在轮换列表第一个页面上创建标签页
//
// 非强制调用只在运行中生效；失败时 errors 加一，
// 开启 autoRestart 时按退避间隔重试。
func (c *Coordinator) acquireTab(ctx context.Context, forced bool, reason string) error {
	c.tabMu.Lock()
	defer c.tabMu.Unlock()

	c.mu.Lock()
	if c.closed || (!forced && !c.cfg.Enabled) {
		c.mu.Unlock()
		return nil
	}
	// 心跳补建时其他路径可能已经建好
	if reason == reasonHeartbeat && c.state.TabID != "" {
		c.mu.Unlock()
		return nil
	}
	c.state.CurrentPageIndex = 0
	url := c.pages[0]
	run := c.runGen
	c.acquiring++
	c.mu.Unlock()

	c.log.Info("创建保活标签页", "url", url, "reason", reason)
	id, err := c.tabs.Acquire(ctx, url)

	c.mu.Lock()
	c.acquiring--
	c.state.TabID = id
	if err != nil {
		c.state.ErrorCount++
		retry := c.cfg.AutoRestart && c.cfg.Enabled && !c.closed && run == c.runGen
		if retry {
			c.scheduleRecoveryLocked(c.timing.RetryBackoff, false)
		}
		c.mu.Unlock()

		c.log.Err(err, "创建标签页失败", "tabId", string(id), "retry", retry)
		c.record(domain.ActivityEvent{Kind: domain.EventError, Message: "tab acquisition failed", Page: url, TabID: id, Error: err.Error()})
		c.persist()
		return err
	}
	c.mu.Unlock()

	c.log.Info("保活标签页已就绪", "tabId", string(id))
	c.record(domain.ActivityEvent{Kind: domain.EventTabCreated, Message: "tab created (" + reason + ")", Page: url, TabID: id})
	c.persist()
	if reason == reasonRecovery || reason == reasonHeartbeat {
		c.notify("Tab recovered", "The keep-alive tab was recreated")
	}
	return nil
}

// performActivity 向模拟器下发一次活动
//
// 非强制调用在未运行或没有标签页时为空操作；强制调用没有标签页时先创建，
// 等待页面初始化后再下发；创建失败时直接返回，不再下发。
// 下发失败时 errors 加一，标签页丢失则重建。
func (c *Coordinator) performActivity(ctx context.Context, forced bool) error {
	c.mu.Lock()
	if !forced && (!c.cfg.Enabled || c.state.TabID == "") {
		c.mu.Unlock()
		return nil
	}
	needTab := c.state.TabID == ""
	c.mu.Unlock()

	if needTab {
		c.log.Info("没有可用标签页，先创建")
		if err := c.acquireTab(ctx, true, reasonForced); err != nil && !c.hasTab() {
			return err
		}
		if err := c.sleep(ctx, c.timing.ForceGrace); err != nil {
			return err
		}
	}

	c.tabMu.Lock()
	c.mu.Lock()
	tab := c.state.TabID
	req := domain.ActivityRequest{Mode: c.cfg.Mode, Timestamp: c.clock.Now().UnixMilli(), Forced: forced}
	page := c.currentPageLocked()
	c.mu.Unlock()

	if tab == "" {
		c.tabMu.Unlock()
		return domain.ErrNoTab
	}
	err := c.sim.Perform(ctx, tab, req)
	c.tabMu.Unlock()

	c.mu.Lock()
	if err != nil {
		c.state.ErrorCount++
		enabled := c.cfg.Enabled
		c.mu.Unlock()

		c.log.Err(err, "活动执行失败", "tabId", string(tab), "forced", forced)
		c.record(domain.ActivityEvent{Kind: domain.EventError, Message: "activity failed", Page: page, TabID: tab, Forced: forced, Error: err.Error()})
		c.persist()
		if enabled && isTabGone(err) {
			_ = c.acquireTab(ctx, false, reasonRecovery)
		}
		return err
	}
	now := c.clock.Now()
	c.state.ActivitiesCount++
	c.state.LastActivity = &now
	c.mu.Unlock()

	c.log.Debug("活动已执行", "tabId", string(tab), "mode", string(req.Mode), "forced", forced)
	c.record(domain.ActivityEvent{Kind: domain.EventActivity, Message: string(req.Mode) + " activity", Page: page, TabID: tab, Forced: forced})
	c.persist()
	return nil
}

// rotate 轮换到下一个页面，未运行或没有标签页时为空操作
func (c *Coordinator) rotate(ctx context.Context) error {
	c.mu.Lock()
	if !c.cfg.Enabled || c.state.TabID == "" {
		c.mu.Unlock()
		return nil
	}
	c.state.CurrentPageIndex = (c.state.CurrentPageIndex + 1) % len(c.pages)
	url := c.pages[c.state.CurrentPageIndex]
	tab := c.state.TabID
	c.mu.Unlock()
	c.persist()

	c.tabMu.Lock()
	err := c.tabs.Navigate(ctx, url)
	c.tabMu.Unlock()

	if err != nil {
		c.mu.Lock()
		c.state.ErrorCount++
		enabled := c.cfg.Enabled
		c.mu.Unlock()

		c.log.Err(err, "页面轮换失败", "url", url)
		c.record(domain.ActivityEvent{Kind: domain.EventError, Message: "rotation failed", Page: url, TabID: tab, Error: err.Error()})
		c.persist()
		if enabled && isTabGone(err) {
			_ = c.acquireTab(ctx, false, reasonRecovery)
		}
		return err
	}

	c.log.Info("已轮换页面", "url", url)
	c.record(domain.ActivityEvent{Kind: domain.EventRotation, Message: "rotated", Page: url, TabID: tab})
	return nil
}

// heartbeat 检查标签页健康，不健康时 tabCrashes 加一并重建
//
// 没有标签页且没有待执行的重建时直接补建，与 autoRestart 无关。
func (c *Coordinator) heartbeat(ctx context.Context, run uint64) {
	c.mu.Lock()
	if !c.cfg.Enabled || run != c.runGen {
		c.mu.Unlock()
		return
	}
	tab := c.state.TabID
	recovering := c.recoveringLocked()
	c.mu.Unlock()
	if tab == "" {
		if !recovering {
			c.log.Warn("没有保活标签页，心跳补建")
			_ = c.acquireTab(ctx, false, reasonHeartbeat)
		}
		return
	}

	c.tabMu.Lock()
	err := c.tabs.CheckHealth(ctx)
	c.tabMu.Unlock()
	if err == nil {
		return
	}

	c.mu.Lock()
	// 期间标签页已被替换或移除事件已计数
	if !c.cfg.Enabled || run != c.runGen || c.state.TabID != tab {
		c.mu.Unlock()
		return
	}
	c.state.TabCrashCount++
	c.state.TabID = ""
	c.mu.Unlock()

	c.log.Warn("标签页不健康，准备重建", "tabId", string(tab), "error", err.Error())
	c.record(domain.ActivityEvent{Kind: domain.EventTabLost, Message: "heartbeat failed", TabID: tab, Error: err.Error()})
	c.persist()
	c.notify("Tab lost", "The keep-alive tab stopped responding")
	_ = c.acquireTab(ctx, false, reasonHeartbeat)
}

func (c *Coordinator) hasTab() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TabID != ""
}

// isTabGone 判断错误是否由标签页或框架丢失引起，加载超时不算
func isTabGone(err error) bool {
	if errx.Is(err, errx.CodeTabLoadTimeout) || errors.Is(err, domain.ErrTabLoadTimeout) {
		return false
	}
	if errx.Is(err, errx.CodeTabGone) || errors.Is(err, domain.ErrNoTab) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tab") || strings.Contains(msg, "frame")
}
