package cdp

import (
	"context"
	"fmt"

	"tabkeeper/pkg/domain"

	"github.com/mafredri/cdp/protocol/target"
)

// CreateTarget 在后台创建一个新页面（不激活、不固定）
func (m *ClientManager) CreateTarget(ctx context.Context, url string) (domain.TabID, error) {
	c, err := m.Browser(ctx)
	if err != nil {
		return "", err
	}
	reply, err := c.Target.CreateTarget(ctx, target.NewCreateTargetArgs(url).SetBackground(true))
	if err != nil {
		return "", fmt.Errorf("cdp: create target: %w", err)
	}
	id := domain.TabID(reply.TargetID)
	m.log.Debug("Target 已创建", "targetID", string(id), "url", url)
	return id, nil
}

// CloseTarget 关闭页面目标，同时断开其页面连接
func (m *ClientManager) CloseTarget(ctx context.Context, id domain.TabID) error {
	_ = m.DetachPage(id)

	c, err := m.Browser(ctx)
	if err != nil {
		return err
	}
	if _, err := c.Target.CloseTarget(ctx, target.NewCloseTargetArgs(target.ID(id))); err != nil {
		return fmt.Errorf("cdp: close target %s: %w", id, err)
	}
	return nil
}

// WatchTargets 订阅目标销毁与崩溃事件，阻塞直到 ctx 结束或事件流中断
func (m *ClientManager) WatchTargets(ctx context.Context, onGone func(id domain.TabID, crashed bool)) error {
	c, err := m.Browser(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	destroyed, err := c.Target.TargetDestroyed(ctx)
	if err != nil {
		return fmt.Errorf("cdp: subscribe targetDestroyed: %w", err)
	}
	defer destroyed.Close()

	crashed, err := c.Target.TargetCrashed(ctx)
	if err != nil {
		return fmt.Errorf("cdp: subscribe targetCrashed: %w", err)
	}
	defer crashed.Close()

	if err := c.Target.SetDiscoverTargets(ctx, target.NewSetDiscoverTargetsArgs(true)); err != nil {
		return fmt.Errorf("cdp: discover targets: %w", err)
	}

	errc := make(chan error, 2)
	go func() {
		for {
			ev, err := crashed.Recv()
			if err != nil {
				errc <- err
				return
			}
			m.log.Warn("Target 渲染进程崩溃", "targetID", string(ev.TargetID), "status", ev.Status)
			onGone(domain.TabID(ev.TargetID), true)
		}
	}()
	go func() {
		for {
			ev, err := destroyed.Recv()
			if err != nil {
				errc <- err
				return
			}
			onGone(domain.TabID(ev.TargetID), false)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}
