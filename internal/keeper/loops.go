package keeper

import (
	"time"

	"k8s.io/utils/clock"
)

type loopKind int

const (
	loopActivity loopKind = iota
	loopRotation
	loopHeartbeat
	loopStats
	loopRecovery // 标签页重建（关闭后的等待或失败后的退避）
	numLoops
)

// loop 一个可取消的计时器，gen 在每次调度或取消时递增，
// 回调持有的 gen 与当前值不一致即说明已过期。
type loop struct {
	timer clock.Timer
	gen   uint64
	next  time.Time
}

func (c *Coordinator) scheduleAtLocked(k loopKind, at time.Time, fn func(gen uint64)) {
	l := &c.loops[k]
	if l.timer != nil {
		l.timer.Stop()
	}
	l.gen++
	gen := l.gen
	l.next = at
	// 回调运行在时钟的上下文中，只能派生协程，不能直接加锁
	l.timer = c.clock.AfterFunc(at.Sub(c.clock.Now()), func() {
		c.spawn(func() { fn(gen) })
	})
}

func (c *Coordinator) scheduleLocked(k loopKind, d time.Duration, fn func(gen uint64)) {
	c.scheduleAtLocked(k, c.clock.Now().Add(d), fn)
}

// nextPeriodLocked 固定周期的下一次触发时间，落后时跳过错过的周期
func (c *Coordinator) nextPeriodLocked(k loopKind, period time.Duration) time.Time {
	now := c.clock.Now()
	next := c.loops[k].next.Add(period)
	for !next.After(now) {
		next = next.Add(period)
	}
	return next
}

func (c *Coordinator) cancelLocked(k loopKind) {
	l := &c.loops[k]
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.gen++
	l.next = time.Time{}
}

func (c *Coordinator) cancelAllLocked() {
	for k := loopKind(0); k < numLoops; k++ {
		c.cancelLocked(k)
	}
}

// firedLocked 回调入口检查：未关闭、仍在运行且不是过期的计时器
func (c *Coordinator) firedLocked(k loopKind, gen uint64) bool {
	return !c.closed && c.cfg.Enabled && c.loops[k].gen == gen
}

func (c *Coordinator) startLoopsLocked() {
	now := c.clock.Now()
	c.scheduleActivityLocked()
	c.scheduleRotationLocked()
	c.scheduleAtLocked(loopHeartbeat, now.Add(c.timing.Heartbeat), c.onHeartbeat)
	c.scheduleAtLocked(loopStats, now.Add(c.timing.Stats), c.onStats)
}

func (c *Coordinator) scheduleActivityLocked() {
	p := c.cfg.Mode.Profile()
	c.scheduleLocked(loopActivity, c.randomDelay(p.ActivityMin, p.ActivityMax), c.onActivity)
}

func (c *Coordinator) scheduleRotationLocked() {
	c.scheduleLocked(loopRotation, c.cfg.Mode.Profile().RotationInterval, c.onRotation)
}

// scheduleRecoveryLocked 延迟重建标签页，onlyIfMissing 时触发前已有标签页则跳过
func (c *Coordinator) scheduleRecoveryLocked(d time.Duration, onlyIfMissing bool) {
	c.scheduleLocked(loopRecovery, d, func(gen uint64) { c.onRecovery(gen, onlyIfMissing) })
}

// recoveringLocked 是否有待执行或进行中的重建
func (c *Coordinator) recoveringLocked() bool {
	return c.loops[loopRecovery].timer != nil || c.acquiring > 0
}

func (c *Coordinator) onActivity(gen uint64) {
	c.mu.Lock()
	if !c.firedLocked(loopActivity, gen) {
		c.mu.Unlock()
		return
	}
	c.loops[loopActivity].timer = nil
	c.mu.Unlock()

	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.performActivity(ctx, false); err != nil {
		c.log.Debug("周期活动失败，等待下次调度", "error", err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// 期间模式切换会重新调度，这里不再重复
	if c.firedLocked(loopActivity, gen) {
		c.scheduleActivityLocked()
	}
}

func (c *Coordinator) onRotation(gen uint64) {
	c.mu.Lock()
	if !c.firedLocked(loopRotation, gen) {
		c.mu.Unlock()
		return
	}
	period := c.cfg.Mode.Profile().RotationInterval
	c.scheduleAtLocked(loopRotation, c.nextPeriodLocked(loopRotation, period), c.onRotation)
	smart := c.cfg.SmartRotation
	c.mu.Unlock()

	if !smart {
		return
	}
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.rotate(ctx); err != nil {
		c.log.Debug("周期轮换失败", "error", err.Error())
	}
}

func (c *Coordinator) onHeartbeat(gen uint64) {
	c.mu.Lock()
	if !c.firedLocked(loopHeartbeat, gen) {
		c.mu.Unlock()
		return
	}
	c.scheduleAtLocked(loopHeartbeat, c.nextPeriodLocked(loopHeartbeat, c.timing.Heartbeat), c.onHeartbeat)
	run := c.runGen
	c.mu.Unlock()

	ctx, cancel := c.opContext()
	defer cancel()
	c.heartbeat(ctx, run)
}

func (c *Coordinator) onStats(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.firedLocked(loopStats, gen) {
		return
	}
	c.scheduleAtLocked(loopStats, c.nextPeriodLocked(loopStats, c.timing.Stats), c.onStats)
	c.refreshUptimeLocked()
}

func (c *Coordinator) onRecovery(gen uint64, onlyIfMissing bool) {
	c.mu.Lock()
	if !c.firedLocked(loopRecovery, gen) {
		c.mu.Unlock()
		return
	}
	c.loops[loopRecovery].timer = nil
	c.loops[loopRecovery].next = time.Time{}
	if onlyIfMissing && c.state.TabID != "" {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := c.opContext()
	defer cancel()
	_ = c.acquireTab(ctx, false, reasonRecovery)
}
