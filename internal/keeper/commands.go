package keeper

import (
	"context"
	"encoding/json"

	"tabkeeper/pkg/api"
	"tabkeeper/pkg/domain"
)

var _ api.Service = (*Coordinator)(nil)

// Start 开启保活：重置错误计数、创建标签页并启动四个计时器，已在运行时为空操作
func (c *Coordinator) Start(ctx context.Context) (domain.StateView, error) {
	c.mu.Lock()
	if c.closed {
		view := c.viewLocked()
		c.mu.Unlock()
		return view, nil
	}
	if c.cfg.Enabled {
		c.log.Warn("已在运行")
		view := c.viewLocked()
		c.mu.Unlock()
		return view, nil
	}
	c.cfg.Enabled = true
	c.runGen++
	run := c.runGen
	now := c.clock.Now()
	c.state.StartTime = &now
	c.state.UptimeMS = 0
	c.state.ErrorCount = 0
	c.state.TabCrashCount = 0
	mode := c.cfg.Mode
	c.mu.Unlock()

	c.log.Info("开始保活", "mode", string(mode))
	c.persist()
	c.record(domain.ActivityEvent{Kind: domain.EventStarted, Message: "started in " + string(mode) + " mode"})
	c.notify("Keep-alive started", "Running in "+string(mode)+" mode")

	_ = c.acquireTab(ctx, false, reasonStart)

	c.mu.Lock()
	defer c.mu.Unlock()
	// 创建标签页期间可能已被停止
	if c.cfg.Enabled && run == c.runGen {
		c.startLoopsLocked()
	}
	return c.viewLocked(), nil
}

// Stop 停止保活：取消所有计时器并关闭标签页，未运行时为空操作
func (c *Coordinator) Stop(ctx context.Context) (domain.StateView, error) {
	c.mu.Lock()
	if !c.cfg.Enabled {
		c.log.Warn("已停止")
		view := c.viewLocked()
		c.mu.Unlock()
		return view, nil
	}
	c.refreshUptimeLocked()
	c.cfg.Enabled = false
	c.runGen++
	c.cancelAllLocked()
	c.mu.Unlock()

	c.log.Info("停止保活")
	c.tabMu.Lock()
	if err := c.tabs.Release(ctx); err != nil {
		c.log.Info("标签页已关闭", "error", err.Error())
	}
	c.tabMu.Unlock()

	c.mu.Lock()
	c.state.TabID = ""
	view := c.viewLocked()
	c.mu.Unlock()

	c.persist()
	c.record(domain.ActivityEvent{Kind: domain.EventStopped, Message: "stopped"})
	c.notify("Keep-alive stopped", "Session keep-alive is paused")
	return view, nil
}

// GetState 返回配置、运行时状态与当前模式参数的快照
func (c *Coordinator) GetState() domain.StateView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// UpdateConfig 浅合并部分配置
//
// 运行中切换模式只重启活动与轮换计时器；包含 enabled 时等同于 start/stop。
func (c *Coordinator) UpdateConfig(ctx context.Context, partial json.RawMessage) (domain.Config, error) {
	c.mu.Lock()
	merged, enabledSet, err := mergeConfig(c.cfg, partial)
	if err != nil {
		cfg := c.cfg
		c.mu.Unlock()
		return cfg, err
	}
	wantEnabled := merged.Enabled
	merged.Enabled = c.cfg.Enabled
	modeChanged := merged.Mode != c.cfg.Mode
	c.cfg = merged
	if modeChanged && c.cfg.Enabled {
		c.scheduleActivityLocked()
		c.scheduleRotationLocked()
	}
	toggle := enabledSet && wantEnabled != c.cfg.Enabled
	c.mu.Unlock()

	if modeChanged {
		c.log.Info("模式已切换", "mode", string(merged.Mode))
	}
	c.persist()

	if toggle {
		if wantEnabled {
			_, err = c.Start(ctx)
		} else {
			_, err = c.Stop(ctx)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, err
}

// ResetStats 清零计数与运行时长，运行中时从现在重新计时
func (c *Coordinator) ResetStats(ctx context.Context) error {
	c.mu.Lock()
	c.state.ActivitiesCount = 0
	c.state.ErrorCount = 0
	c.state.TabCrashCount = 0
	c.state.UptimeMS = 0
	c.state.StartTime = nil
	if c.cfg.Enabled {
		now := c.clock.Now()
		c.state.StartTime = &now
	}
	c.mu.Unlock()

	c.log.Info("统计已重置")
	c.persist()
	return nil
}

// ForceActivity 立即执行一次活动，不检查是否在运行
//
// 未运行时为此创建的标签页在活动结束后关闭。
func (c *Coordinator) ForceActivity(ctx context.Context) error {
	err := c.performActivity(ctx, true)
	c.releaseIfIdle(ctx)
	return err
}

// ForceRotation 立即轮换到下一个页面，未运行或没有标签页时为空操作
func (c *Coordinator) ForceRotation(ctx context.Context) error {
	return c.rotate(ctx)
}

// ActivityComplete 外部模拟器上报完成一次活动
func (c *Coordinator) ActivityComplete(ctx context.Context) error {
	c.mu.Lock()
	now := c.clock.Now()
	c.state.ActivitiesCount++
	c.state.LastActivity = &now
	c.mu.Unlock()

	c.persist()
	return nil
}

// History 返回最近的活动历史
func (c *Coordinator) History(ctx context.Context, limit int) ([]domain.ActivityEvent, error) {
	if c.history == nil {
		return []domain.ActivityEvent{}, nil
	}
	return c.history.Recent(ctx, limit)
}

// HandleTabRemoved 标签页被关闭的通知，只处理运行中的受管标签页
func (c *Coordinator) HandleTabRemoved(id domain.TabID) {
	c.mu.Lock()
	if !c.cfg.Enabled || c.closed || id == "" || id != c.state.TabID {
		c.mu.Unlock()
		return
	}
	c.state.TabID = ""
	c.state.TabCrashCount++
	auto := c.cfg.AutoRestart
	if auto {
		c.scheduleRecoveryLocked(c.timing.SettleDelay, true)
	}
	c.mu.Unlock()

	c.log.Warn("保活标签页被意外关闭", "tabId", string(id), "autoRestart", auto)
	c.record(domain.ActivityEvent{Kind: domain.EventTabLost, Message: "tab closed", TabID: id})
	c.persist()
	c.notify("Tab lost", "The keep-alive tab was closed")
}

// releaseIfIdle 未运行时关闭强制活动留下的标签页
func (c *Coordinator) releaseIfIdle(ctx context.Context) {
	c.tabMu.Lock()
	defer c.tabMu.Unlock()

	c.mu.Lock()
	if c.cfg.Enabled || c.state.TabID == "" {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.tabs.Release(ctx); err != nil {
		c.log.Debug("关闭标签页失败", "error", err.Error())
	}

	c.mu.Lock()
	if !c.cfg.Enabled {
		c.state.TabID = ""
	}
	c.mu.Unlock()
	c.persist()
}
