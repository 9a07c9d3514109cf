package keeper

import "time"

type LoopKind = loopKind

const (
	LoopActivity  = loopActivity
	LoopRotation  = loopRotation
	LoopHeartbeat = loopHeartbeat
	LoopStats     = loopStats
	LoopRecovery  = loopRecovery
)

// WaitIdle 等待所有已派生的计时器回调结束
func (c *Coordinator) WaitIdle() {
	c.wg.Wait()
}

// NextFire 返回计时器的下一次触发时间，未调度时为零值
func (c *Coordinator) NextFire(k LoopKind) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loops[k].timer == nil {
		return time.Time{}
	}
	return c.loops[k].next
}

func (c *Coordinator) RandomDelay(min, max time.Duration) time.Duration {
	return c.randomDelay(min, max)
}

var MergeConfig = mergeConfig

var IsTabGone = isTabGone
