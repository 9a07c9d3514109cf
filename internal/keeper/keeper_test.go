package keeper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tabkeeper/internal/keeper"
	"tabkeeper/internal/storage/model"
	"tabkeeper/pkg/domain"
	"tabkeeper/pkg/errx"

	"github.com/tidwall/gjson"
)

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name string
		opts keeper.Options
	}{
		{"缺少依赖", keeper.Options{Pages: testPages}},
		{"页面列表为空", keeper.Options{Tabs: &fakeTabs{}, Simulator: &fakeSim{}, Store: newFakeStore()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := keeper.New(tc.opts); err == nil {
				t.Fatal("期望返回错误")
			}
		})
	}
}

func TestStart(t *testing.T) {
	store := newFakeStore()
	store.data[model.SettingKeyState] = `{"activitiesCount":9,"errors":5,"tabCrashes":3}`
	e := newEnv(t, store, nil)

	view := e.start(t)
	if !view.State.IsRunning || !view.Config.Enabled {
		t.Fatal("Start 后应处于运行状态")
	}
	if view.State.TabID != "tab-1" {
		t.Fatalf("TabID = %q", view.State.TabID)
	}
	if view.State.ErrorCount != 0 || view.State.TabCrashCount != 0 {
		t.Fatalf("errors/tabCrashes 应被重置: %+v", view.State.RuntimeState)
	}
	if view.State.ActivitiesCount != 9 {
		t.Fatalf("activitiesCount 不应被重置, got %d", view.State.ActivitiesCount)
	}
	acquired, _, _, _ := e.tabs.snapshot()
	if len(acquired) != 1 || acquired[0] != testPages[0] {
		t.Fatalf("acquired = %v", acquired)
	}

	now := e.clock.Now()
	want := map[keeper.LoopKind]time.Duration{
		keeper.LoopActivity:  45 * time.Second,
		keeper.LoopRotation:  5 * time.Minute,
		keeper.LoopHeartbeat: 30 * time.Second,
		keeper.LoopStats:     time.Second,
	}
	for k, d := range want {
		if got := e.k.NextFire(k); !got.Equal(now.Add(d)) {
			t.Errorf("loop %d next = %v, want %v", k, got, now.Add(d))
		}
	}

	t.Run("重复启动为空操作", func(t *testing.T) {
		e.start(t)
		acquired, _, _, _ := e.tabs.snapshot()
		if len(acquired) != 1 {
			t.Fatalf("不应再次创建标签页, acquired = %v", acquired)
		}
	})

	t.Run("持久化", func(t *testing.T) {
		if !gjson.Get(e.store.get(model.SettingKeyConfig), "enabled").Bool() {
			t.Fatal("持久化配置应为 enabled")
		}
		if got := gjson.Get(e.store.get(model.SettingKeyState), "tabId").String(); got != "tab-1" {
			t.Fatalf("持久化 tabId = %q", got)
		}
	})
}

func TestStop(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.start(t)

	view, err := e.k.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if view.State.IsRunning || view.State.TabID != "" {
		t.Fatalf("Stop 后状态错误: running=%v tab=%q", view.State.IsRunning, view.State.TabID)
	}
	for _, k := range []keeper.LoopKind{keeper.LoopActivity, keeper.LoopRotation, keeper.LoopHeartbeat, keeper.LoopStats, keeper.LoopRecovery} {
		if !e.k.NextFire(k).IsZero() {
			t.Errorf("loop %d 应已取消", k)
		}
	}

	e.advance(10*time.Minute, 15*time.Second)
	_, navigated, released, checks := e.tabs.snapshot()
	if e.sim.count() != 0 || len(navigated) != 0 || checks != 0 {
		t.Fatalf("停止后不应有任何动作: sim=%d nav=%v checks=%d", e.sim.count(), navigated, checks)
	}
	if released != 1 {
		t.Fatalf("released = %d", released)
	}

	if _, err := e.k.Stop(context.Background()); err != nil {
		t.Fatalf("重复 Stop: %v", err)
	}
	if gjson.Get(e.store.get(model.SettingKeyConfig), "enabled").Bool() {
		t.Fatal("持久化配置应为 disabled")
	}
}

func TestActivityLoop(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.setConfig(t, `{"mode":"aggressive"}`)
	e.start(t)

	e.step(29 * time.Second)
	if e.sim.count() != 0 {
		t.Fatalf("未到时间不应执行活动, got %d", e.sim.count())
	}
	e.step(time.Second)
	if e.sim.count() != 1 {
		t.Fatalf("30s 时应执行一次活动, got %d", e.sim.count())
	}
	req := e.sim.reqs[0]
	if req.Mode != domain.ModeAggressive || req.Forced || e.sim.tabs[0] != "tab-1" {
		t.Fatalf("请求错误: %+v tab=%s", req, e.sim.tabs[0])
	}

	st := e.k.GetState().State
	if st.ActivitiesCount != 1 || st.LastActivity == nil || !st.LastActivity.Equal(e.clock.Now()) {
		t.Fatalf("活动计数错误: %+v", st.RuntimeState)
	}
	if next := e.k.NextFire(keeper.LoopActivity); !next.Equal(e.clock.Now().Add(30 * time.Second)) {
		t.Fatalf("下次活动 = %v", next)
	}

	e.step(30 * time.Second)
	if e.sim.count() != 2 {
		t.Fatalf("60s 时应执行两次活动, got %d", e.sim.count())
	}
}

func TestRandomDelay(t *testing.T) {
	e := newEnv(t, nil, func(o *keeper.Options) { o.Rand = nil })
	for _, m := range domain.Modes() {
		p := m.Profile()
		t.Run(string(m), func(t *testing.T) {
			for i := 0; i < 2000; i++ {
				d := e.k.RandomDelay(p.ActivityMin, p.ActivityMax)
				if d < p.ActivityMin || d > p.ActivityMax {
					t.Fatalf("延迟 %v 超出 [%v,%v]", d, p.ActivityMin, p.ActivityMax)
				}
				if d%time.Millisecond != 0 {
					t.Fatalf("延迟应为整毫秒: %v", d)
				}
			}
		})
	}

	t.Run("两端可取到", func(t *testing.T) {
		lo := newEnv(t, nil, func(o *keeper.Options) { o.Rand = func(int64) int64 { return 0 } })
		if d := lo.k.RandomDelay(15*time.Second, 30*time.Second); d != 15*time.Second {
			t.Fatalf("min = %v", d)
		}
		if d := e.k.RandomDelay(15*time.Second, 15*time.Second); d != 15*time.Second {
			t.Fatalf("min == max 时 = %v", d)
		}
	})
}

func TestRotation(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.setConfig(t, `{"mode":"aggressive"}`)
	e.start(t)

	e.advance(3*time.Minute, 30*time.Second)
	_, navigated, _, _ := e.tabs.snapshot()
	if len(navigated) != 1 || navigated[0] != testPages[1] {
		t.Fatalf("3 分钟后应轮换一次, navigated = %v", navigated)
	}
	if idx := e.k.GetState().State.CurrentPageIndex; idx != 1 {
		t.Fatalf("currentPageIndex = %d", idx)
	}
	if page := e.k.GetState().State.CurrentPage; page != testPages[1] {
		t.Fatalf("currentPage = %s", page)
	}

	e.advance(9*time.Minute, 30*time.Second)
	_, navigated, _, _ = e.tabs.snapshot()
	want := []string{testPages[1], testPages[2], testPages[3], testPages[0]}
	if len(navigated) != len(want) {
		t.Fatalf("navigated = %v", navigated)
	}
	for i := range want {
		if navigated[i] != want[i] {
			t.Fatalf("第 %d 次轮换 = %s, want %s", i, navigated[i], want[i])
		}
	}
	if idx := e.k.GetState().State.CurrentPageIndex; idx != 0 {
		t.Fatalf("轮换一圈后 currentPageIndex = %d", idx)
	}
}

func TestRotation_SmartRotationOff(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.setConfig(t, `{"mode":"aggressive","smartRotation":false}`)
	e.start(t)

	e.advance(7*time.Minute, 30*time.Second)
	_, navigated, _, _ := e.tabs.snapshot()
	if len(navigated) != 0 {
		t.Fatalf("关闭轮换后不应跳转, navigated = %v", navigated)
	}
	if idx := e.k.GetState().State.CurrentPageIndex; idx != 0 {
		t.Fatalf("currentPageIndex = %d", idx)
	}
}

func TestUpdateConfig_ModeChangeRestartsOnlyActivityAndRotation(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.start(t)
	e.step(10 * time.Second)

	hb := e.k.NextFire(keeper.LoopHeartbeat)
	stats := e.k.NextFire(keeper.LoopStats)
	cfg, err := e.k.UpdateConfig(context.Background(), []byte(`{"mode":"stealth"}`))
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if cfg.Mode != domain.ModeStealth {
		t.Fatalf("mode = %s", cfg.Mode)
	}

	now := e.clock.Now()
	if got := e.k.NextFire(keeper.LoopHeartbeat); !got.Equal(hb) {
		t.Errorf("心跳计时器不应变化: %v -> %v", hb, got)
	}
	if got := e.k.NextFire(keeper.LoopStats); !got.Equal(stats) {
		t.Errorf("统计计时器不应变化: %v -> %v", stats, got)
	}
	if got := e.k.NextFire(keeper.LoopActivity); !got.Equal(now.Add(90 * time.Second)) {
		t.Errorf("活动计时器 = %v, want %v", got, now.Add(90*time.Second))
	}
	if got := e.k.NextFire(keeper.LoopRotation); !got.Equal(now.Add(8 * time.Minute)) {
		t.Errorf("轮换计时器 = %v, want %v", got, now.Add(8*time.Minute))
	}

	ms := e.k.GetState().ModeSettings
	if ms.ActivityInterval != [2]int64{45000, 90000} || ms.RotationInterval != 480000 {
		t.Fatalf("modeSettings = %+v", ms)
	}
}

func TestUpdateConfig_Validation(t *testing.T) {
	e := newEnv(t, nil, nil)
	before := e.k.GetState().Config

	for _, raw := range []string{
		`{"mode":"turbo"}`,
		`{"notifications":"yes"}`,
		`{"mode":1}`,
		`{bad json`,
		`[1,2]`,
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := e.k.UpdateConfig(context.Background(), []byte(raw))
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
			if got := e.k.GetState().Config; got != before {
				t.Fatalf("非法配置不应生效: %+v", got)
			}
		})
	}
}

func TestMergeConfig(t *testing.T) {
	cur := domain.DefaultConfig()
	cases := []struct {
		name       string
		raw        string
		want       domain.Config
		enabledSet bool
	}{
		{"空输入", ``, cur, false},
		{"null", `null`, cur, false},
		{"忽略未知字段", `{"unknown":1,"autoRestart":false}`, func() domain.Config {
			c := cur
			c.AutoRestart = false
			return c
		}(), false},
		{"多字段合并", `{"notifications":false,"smartRotation":false,"mode":"aggressive"}`, func() domain.Config {
			c := cur
			c.Notifications, c.SmartRotation, c.Mode = false, false, domain.ModeAggressive
			return c
		}(), false},
		{"包含 enabled", `{"enabled":true}`, func() domain.Config {
			c := cur
			c.Enabled = true
			return c
		}(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, enabledSet, err := keeper.MergeConfig(cur, []byte(tc.raw))
			if err != nil {
				t.Fatalf("MergeConfig: %v", err)
			}
			if got != tc.want || enabledSet != tc.enabledSet {
				t.Fatalf("got %+v (enabledSet=%v), want %+v (%v)", got, enabledSet, tc.want, tc.enabledSet)
			}
		})
	}
}

func TestUpdateConfig_EnabledTogglesRun(t *testing.T) {
	e := newEnv(t, nil, nil)

	e.setConfig(t, `{"enabled":true,"mode":"aggressive"}`)
	st := e.k.GetState()
	if !st.State.IsRunning || st.State.TabID == "" || st.Config.Mode != domain.ModeAggressive {
		t.Fatalf("enabled=true 应启动: %+v", st)
	}

	e.setConfig(t, `{"enabled":false}`)
	if st := e.k.GetState(); st.State.IsRunning || st.State.TabID != "" {
		t.Fatalf("enabled=false 应停止: %+v", st.State)
	}
}

func TestHandleTabRemoved(t *testing.T) {
	t.Run("自动重建", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		e.start(t)

		e.k.HandleTabRemoved("other")
		if st := e.k.GetState().State; st.TabCrashCount != 0 || st.TabID != "tab-1" {
			t.Fatalf("无关标签页不应处理: %+v", st.RuntimeState)
		}

		e.k.HandleTabRemoved("tab-1")
		st := e.k.GetState().State
		if st.TabID != "" || st.TabCrashCount != 1 {
			t.Fatalf("移除后状态错误: %+v", st.RuntimeState)
		}

		e.step(4 * time.Second)
		if acquired, _, _, _ := e.tabs.snapshot(); len(acquired) != 1 {
			t.Fatalf("等待期内不应重建, acquired = %v", acquired)
		}
		e.step(time.Second)
		if acquired, _, _, _ := e.tabs.snapshot(); len(acquired) != 2 {
			t.Fatalf("5s 后应重建, acquired = %v", acquired)
		}

		e.advance(30*time.Second, 5*time.Second)
		st = e.k.GetState().State
		if st.TabID != "tab-2" || st.TabCrashCount != 1 {
			t.Fatalf("重建后状态错误: %+v", st.RuntimeState)
		}
		if _, _, _, checks := e.tabs.snapshot(); checks == 0 {
			t.Fatal("心跳应检查新标签页")
		}
		if e.notifier.count() == 0 {
			t.Fatal("开启通知时应发出提示")
		}
	})

	t.Run("关闭自动重建", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		e.setConfig(t, `{"autoRestart":false,"notifications":false}`)
		e.start(t)
		before := e.notifier.count()

		e.k.HandleTabRemoved("tab-1")
		e.advance(25*time.Second, 5*time.Second)
		acquired, _, _, _ := e.tabs.snapshot()
		if len(acquired) != 1 {
			t.Fatalf("关闭自动重建后移除事件不应触发重建, acquired = %v", acquired)
		}

		// 下一次心跳补建
		e.step(5 * time.Second)
		acquired, _, _, _ = e.tabs.snapshot()
		if len(acquired) != 2 {
			t.Fatalf("心跳应补建标签页, acquired = %v", acquired)
		}
		if st := e.k.GetState().State; st.TabCrashCount != 1 || st.TabID != "tab-2" {
			t.Fatalf("状态错误: %+v", st.RuntimeState)
		}
		if e.notifier.count() != before {
			t.Fatal("关闭通知时不应发出提示")
		}
	})

	t.Run("未运行时忽略", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		e.k.HandleTabRemoved("tab-1")
		if st := e.k.GetState().State; st.TabCrashCount != 0 {
			t.Fatalf("tabCrashes = %d", st.TabCrashCount)
		}
	})
}

func TestHeartbeat(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.start(t)
	e.tabs.mu.Lock()
	e.tabs.failHealth = 1
	e.tabs.mu.Unlock()

	e.step(30 * time.Second)
	st := e.k.GetState().State
	if st.TabCrashCount != 1 {
		t.Fatalf("tabCrashes = %d", st.TabCrashCount)
	}
	if st.TabID != "tab-2" {
		t.Fatalf("心跳失败后应重建, tab = %q", st.TabID)
	}

	e.step(30 * time.Second)
	if st := e.k.GetState().State; st.TabCrashCount != 1 {
		t.Fatalf("健康时不应计数, tabCrashes = %d", st.TabCrashCount)
	}
}

func TestHeartbeat_RecreatesMissingTab(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.setConfig(t, `{"autoRestart":false}`)
	e.tabs.acquireErrs = []error{errors.New("devtools unreachable")}
	e.start(t)
	if st := e.k.GetState().State; st.TabID != "" || st.ErrorCount != 1 {
		t.Fatalf("启动时创建失败: %+v", st.RuntimeState)
	}

	e.step(30 * time.Second)
	st := e.k.GetState().State
	if st.TabID != "tab-2" {
		t.Fatalf("心跳应补建标签页, tab = %q", st.TabID)
	}
	if st.TabCrashCount != 0 || st.ErrorCount != 1 {
		t.Fatalf("补建不应计为崩溃: %+v", st.RuntimeState)
	}
	if _, _, _, checks := e.tabs.snapshot(); checks != 0 {
		t.Fatalf("没有标签页时不应做健康检查, checks = %d", checks)
	}
}

func TestForceActivity(t *testing.T) {
	t.Run("未运行且没有标签页", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		done := make(chan error, 1)
		go func() { done <- e.k.ForceActivity(context.Background()) }()

		waitForWaiters(t, e.clock)
		if e.sim.count() != 0 {
			t.Fatal("等待期内不应下发活动")
		}
		e.clock.Step(2 * time.Second)

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("ForceActivity: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("ForceActivity 未返回")
		}

		if e.sim.count() != 1 || !e.sim.reqs[0].Forced {
			t.Fatalf("应下发一次强制活动: %+v", e.sim.reqs)
		}
		acquired, _, released, _ := e.tabs.snapshot()
		if len(acquired) != 1 || released != 1 {
			t.Fatalf("应创建并在结束后关闭标签页: acquired=%v released=%d", acquired, released)
		}
		st := e.k.GetState().State
		if st.ActivitiesCount != 1 || st.TabID != "" {
			t.Fatalf("状态错误: %+v", st.RuntimeState)
		}
	})

	t.Run("未运行且创建失败", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		e.tabs.acquireErrs = []error{errors.New("devtools unreachable")}

		err := e.k.ForceActivity(context.Background())
		if err == nil || err.Error() != "devtools unreachable" {
			t.Fatalf("err = %v", err)
		}
		if e.sim.count() != 0 {
			t.Fatal("创建失败后不应下发活动")
		}
		e.tabs.mu.Lock()
		attempts := e.tabs.seq
		e.tabs.mu.Unlock()
		if attempts != 1 {
			t.Fatalf("只应尝试创建一次, attempts = %d", attempts)
		}
		if st := e.k.GetState().State; st.ErrorCount != 1 {
			t.Fatalf("一次失败只计一次, errors = %d", st.ErrorCount)
		}
	})

	t.Run("运行中标签页丢失且创建失败", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		e.setConfig(t, `{"autoRestart":false}`)
		e.start(t)
		e.k.HandleTabRemoved("tab-1")

		e.tabs.mu.Lock()
		e.tabs.acquireErrs = []error{errors.New("devtools unreachable")}
		e.tabs.mu.Unlock()

		if err := e.k.ForceActivity(context.Background()); err == nil {
			t.Fatal("创建失败应返回错误")
		}
		e.k.WaitIdle()
		if e.sim.count() != 0 {
			t.Fatal("创建失败后不应下发活动")
		}
		e.tabs.mu.Lock()
		attempts := e.tabs.seq
		e.tabs.mu.Unlock()
		if attempts != 2 {
			t.Fatalf("启动一次加强制一次, attempts = %d", attempts)
		}
		st := e.k.GetState().State
		if st.ErrorCount != 1 || st.TabCrashCount != 1 {
			t.Fatalf("状态错误: %+v", st.RuntimeState)
		}
		if !e.k.NextFire(keeper.LoopRecovery).IsZero() {
			t.Fatal("关闭自动重建时不应安排重试")
		}
	})

	t.Run("运行中", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		e.start(t)
		if err := e.k.ForceActivity(context.Background()); err != nil {
			t.Fatalf("ForceActivity: %v", err)
		}
		st := e.k.GetState().State
		if st.ActivitiesCount != 1 || st.TabID != "tab-1" {
			t.Fatalf("状态错误: %+v", st.RuntimeState)
		}
	})

	t.Run("失败返回错误", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		e.start(t)
		e.sim.errs = []error{errors.New("boom")}

		err := e.k.ForceActivity(context.Background())
		if err == nil || err.Error() != "boom" {
			t.Fatalf("err = %v", err)
		}
		st := e.k.GetState().State
		if st.ErrorCount != 1 || st.ActivitiesCount != 0 {
			t.Fatalf("状态错误: %+v", st.RuntimeState)
		}
		if acquired, _, _, _ := e.tabs.snapshot(); len(acquired) != 1 {
			t.Fatalf("非标签页错误不应重建, acquired = %v", acquired)
		}
	})

	t.Run("标签页丢失时重建", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		e.start(t)
		e.sim.errs = []error{errx.New(errx.CodeTabGone, "tab gone during mouseMoved")}

		if err := e.k.ForceActivity(context.Background()); !errx.Is(err, errx.CodeTabGone) {
			t.Fatalf("err = %v", err)
		}
		if st := e.k.GetState().State; st.ErrorCount != 1 || st.TabID != "tab-2" {
			t.Fatalf("状态错误: %+v", st.RuntimeState)
		}
	})
}

func TestActivityLoop_FailureIsSwallowed(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.setConfig(t, `{"mode":"aggressive"}`)
	e.start(t)
	e.sim.errs = []error{errors.New("boom")}

	e.step(30 * time.Second)
	st := e.k.GetState().State
	if st.ErrorCount != 1 || st.ActivitiesCount != 0 {
		t.Fatalf("状态错误: %+v", st.RuntimeState)
	}
	if next := e.k.NextFire(keeper.LoopActivity); !next.Equal(e.clock.Now().Add(30 * time.Second)) {
		t.Fatalf("失败后仍应继续调度, next = %v", next)
	}

	e.step(30 * time.Second)
	if st := e.k.GetState().State; st.ActivitiesCount != 1 {
		t.Fatalf("activitiesCount = %d", st.ActivitiesCount)
	}
}

func TestAcquireRetry(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		keepTab bool
	}{
		{"创建失败", errors.New("devtools unreachable"), false},
		{"加载超时", errx.New(errx.CodeTabLoadTimeout, "Tab load timeout"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, nil, nil)
			e.tabs.acquireErrs = []error{tc.err}

			view := e.start(t)
			if !view.State.IsRunning {
				t.Fatal("创建失败不应阻止启动")
			}
			if view.State.ErrorCount != 1 {
				t.Fatalf("errors = %d", view.State.ErrorCount)
			}
			if (view.State.TabID != "") != tc.keepTab {
				t.Fatalf("tab = %q", view.State.TabID)
			}
			if next := e.k.NextFire(keeper.LoopRecovery); !next.Equal(e.clock.Now().Add(10 * time.Second)) {
				t.Fatalf("重试时间 = %v", next)
			}

			e.step(10 * time.Second)
			if st := e.k.GetState().State; st.TabID != "tab-2" {
				t.Fatalf("重试后 tab = %q", st.TabID)
			}
		})
	}

	t.Run("关闭自动重建不重试", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		e.setConfig(t, `{"autoRestart":false}`)
		e.tabs.acquireErrs = []error{errors.New("devtools unreachable")}
		e.start(t)
		if !e.k.NextFire(keeper.LoopRecovery).IsZero() {
			t.Fatal("不应安排重试")
		}
	})
}

func TestStatsAndReset(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.start(t)

	e.advance(65*time.Second, 5*time.Second)
	st := e.k.GetState().State
	if st.UptimeMS != 65000 || st.UptimeFormatted != "1m 5s" {
		t.Fatalf("uptime = %d (%s)", st.UptimeMS, st.UptimeFormatted)
	}
	if st.ActivitiesCount == 0 {
		t.Fatal("65s 内应至少执行一次活动")
	}

	if err := e.k.ResetStats(context.Background()); err != nil {
		t.Fatalf("ResetStats: %v", err)
	}
	st = e.k.GetState().State
	if st.ActivitiesCount != 0 || st.ErrorCount != 0 || st.TabCrashCount != 0 || st.UptimeMS != 0 {
		t.Fatalf("重置后计数应为 0: %+v", st.RuntimeState)
	}
	if st.StartTime == nil || !st.StartTime.Equal(e.clock.Now()) {
		t.Fatalf("startTime = %v", st.StartTime)
	}

	e.step(time.Second)
	if st := e.k.GetState().State; st.UptimeMS != 1000 {
		t.Fatalf("重置后运行时长应从 0 开始, got %d", st.UptimeMS)
	}

	t.Run("未运行时清空开始时间", func(t *testing.T) {
		idle := newEnv(t, nil, nil)
		_ = idle.k.ResetStats(context.Background())
		if st := idle.k.GetState().State; st.StartTime != nil {
			t.Fatalf("startTime = %v", st.StartTime)
		}
	})
}

func TestActivityComplete(t *testing.T) {
	e := newEnv(t, nil, nil)
	for i := 0; i < 3; i++ {
		if err := e.k.ActivityComplete(context.Background()); err != nil {
			t.Fatalf("ActivityComplete: %v", err)
		}
	}
	st := e.k.GetState().State
	if st.ActivitiesCount != 3 || st.LastActivity == nil {
		t.Fatalf("状态错误: %+v", st.RuntimeState)
	}
	if got := gjson.Get(e.store.get(model.SettingKeyState), "activitiesCount").Int(); got != 3 {
		t.Fatalf("持久化 activitiesCount = %d", got)
	}
}

func TestForceRotation(t *testing.T) {
	e := newEnv(t, nil, nil)
	if err := e.k.ForceRotation(context.Background()); err != nil {
		t.Fatalf("ForceRotation: %v", err)
	}
	if _, navigated, _, _ := e.tabs.snapshot(); len(navigated) != 0 {
		t.Fatal("未运行时不应轮换")
	}

	e.start(t)
	if err := e.k.ForceRotation(context.Background()); err != nil {
		t.Fatalf("ForceRotation: %v", err)
	}
	if _, navigated, _, _ := e.tabs.snapshot(); len(navigated) != 1 || navigated[0] != testPages[1] {
		t.Fatalf("navigated = %v", navigated)
	}

	e.tabs.mu.Lock()
	e.tabs.navErr = errors.New("net::ERR_ABORTED")
	e.tabs.mu.Unlock()
	if err := e.k.ForceRotation(context.Background()); err == nil {
		t.Fatal("跳转失败应返回错误")
	}
	if st := e.k.GetState().State; st.ErrorCount != 1 || st.CurrentPageIndex != 2 {
		t.Fatalf("状态错误: %+v", st.RuntimeState)
	}

	// 加载超时不算标签页丢失，不重建也不回到首页
	e.tabs.mu.Lock()
	e.tabs.navErr = errx.New(errx.CodeTabLoadTimeout, "Tab load timeout")
	e.tabs.mu.Unlock()
	if err := e.k.ForceRotation(context.Background()); !errx.Is(err, errx.CodeTabLoadTimeout) {
		t.Fatalf("err = %v", err)
	}
	st := e.k.GetState().State
	if st.ErrorCount != 2 || st.CurrentPageIndex != 3 || st.TabID != "tab-1" {
		t.Fatalf("状态错误: %+v", st.RuntimeState)
	}
	if acquired, _, _, _ := e.tabs.snapshot(); len(acquired) != 1 {
		t.Fatalf("加载超时不应重建标签页, acquired = %v", acquired)
	}
}

func TestInit(t *testing.T) {
	t.Run("自动恢复运行", func(t *testing.T) {
		store := newFakeStore()
		store.data[model.SettingKeyConfig] = `{"enabled":true,"mode":"turbo","notifications":false,"autoRestart":true,"smartRotation":true}`
		store.data[model.SettingKeyState] = `{"tabId":"stale","currentPageIndex":9,"activitiesCount":4}`
		e := newEnv(t, store, nil)

		st := e.k.GetState()
		if !st.State.IsRunning {
			t.Fatal("上次运行中应自动恢复")
		}
		if st.Config.Mode != domain.DefaultMode {
			t.Fatalf("未知模式应回退, mode = %s", st.Config.Mode)
		}
		if st.Config.Notifications {
			t.Fatal("其余字段应保留")
		}
		if st.State.TabID != "tab-1" || st.State.CurrentPageIndex != 0 || st.State.ActivitiesCount != 4 {
			t.Fatalf("状态错误: %+v", st.State.RuntimeState)
		}
	})

	t.Run("上次已停止", func(t *testing.T) {
		store := newFakeStore()
		store.data[model.SettingKeyConfig] = `{"enabled":false,"mode":"stealth"}`
		store.data[model.SettingKeyState] = `{"tabId":"stale"}`
		e := newEnv(t, store, nil)

		st := e.k.GetState()
		if st.State.IsRunning || st.State.TabID != "" || st.Config.Mode != domain.ModeStealth {
			t.Fatalf("状态错误: %+v", st)
		}
		if acquired, _, _, _ := e.tabs.snapshot(); len(acquired) != 0 {
			t.Fatal("不应创建标签页")
		}
		if !st.Config.AutoRestart {
			t.Fatal("缺失字段应取默认值")
		}
	})

	t.Run("首次运行写入默认值", func(t *testing.T) {
		e := newEnv(t, nil, nil)
		if got := e.store.get(model.SettingKeyConfig); gjson.Get(got, "mode").String() != "balanced" {
			t.Fatalf("默认配置 = %s", got)
		}
	})
}

func TestClose(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.start(t)

	if err := e.k.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, released, _ := e.tabs.snapshot(); released != 1 {
		t.Fatalf("released = %d", released)
	}
	e.clock.Step(10 * time.Minute)
	e.k.WaitIdle()
	if e.sim.count() != 0 {
		t.Fatal("关闭后不应执行活动")
	}
	if !gjson.Get(e.store.get(model.SettingKeyConfig), "enabled").Bool() {
		t.Fatal("关闭不应改变持久化的运行状态")
	}
	if err := e.k.Close(); err != nil {
		t.Fatalf("重复 Close: %v", err)
	}
}

func TestHistory(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.start(t)
	_ = e.k.ForceActivity(context.Background())
	_, _ = e.k.Stop(context.Background())

	kinds := e.history.kinds()
	want := []domain.EventKind{domain.EventStarted, domain.EventTabCreated, domain.EventActivity, domain.EventStopped}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}

	events, err := e.k.History(context.Background(), 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(events) != 2 || events[0].Kind != domain.EventStopped {
		t.Fatalf("events = %+v", events)
	}
}

func TestConcurrentCommands(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.start(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			e.step(time.Second)
		}
	}()
	modes := []string{`{"mode":"stealth"}`, `{"mode":"aggressive"}`, `{"mode":"balanced"}`}
	for i := 0; i < 50; i++ {
		_ = e.k.GetState()
		_, _ = e.k.UpdateConfig(context.Background(), []byte(modes[i%len(modes)]))
		_ = e.k.ActivityComplete(context.Background())
	}
	<-done

	if st := e.k.GetState().State; st.ActivitiesCount < 50 {
		t.Fatalf("activitiesCount = %d", st.ActivitiesCount)
	}
}

func TestIsTabGone(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errx.New(errx.CodeTabGone, "gone"), true},
		{domain.ErrNoTab, true},
		{errors.New("No frame with given id found"), true},
		{errors.New("Tab not found"), true},
		{errx.New(errx.CodeTabLoadTimeout, "Tab load timeout"), false},
		{errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			if got := keeper.IsTabGone(tc.err); got != tc.want {
				t.Fatalf("IsTabGone = %v, want %v", got, tc.want)
			}
		})
	}
}
