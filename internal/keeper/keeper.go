package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"tabkeeper/internal/logger"
	"tabkeeper/internal/storage/model"
	"tabkeeper/pkg/domain"

	"k8s.io/utils/clock"
)

// TabHandle 受管标签页
type TabHandle interface {
	// Acquire 关闭旧标签页并在 url 上新建一个，加载超时时仍返回新标签页 ID
	Acquire(ctx context.Context, url string) (domain.TabID, error)

	// Navigate 当前标签页跳转并等待加载
	Navigate(ctx context.Context, url string) error

	// Release 关闭当前标签页
	Release(ctx context.Context) error

	// CheckHealth 返回 nil 表示标签页健康
	CheckHealth(ctx context.Context) error
}

// Simulator 活动模拟器
type Simulator interface {
	Perform(ctx context.Context, id domain.TabID, req domain.ActivityRequest) error
}

// Store 持久化配置与状态的键值存储
type Store interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	SetMultiple(ctx context.Context, kvs map[string]string) error
}

// History 活动历史
type History interface {
	Record(evt domain.ActivityEvent)
	Recent(ctx context.Context, limit int) ([]domain.ActivityEvent, error)
}

// Timing 协调器使用的各类时长，零值使用默认值
type Timing struct {
	Heartbeat    time.Duration
	Stats        time.Duration
	RetryBackoff time.Duration // 创建标签页失败后的重试间隔
	SettleDelay  time.Duration // 标签页被关闭后等待多久再重建
	ForceGrace   time.Duration // 强制活动新建标签页后等待页面初始化
	OpTimeout    time.Duration // 计时器触发的单次操作上限
}

func (t *Timing) setDefaults() {
	if t.Heartbeat <= 0 {
		t.Heartbeat = 30 * time.Second
	}
	if t.Stats <= 0 {
		t.Stats = time.Second
	}
	if t.RetryBackoff <= 0 {
		t.RetryBackoff = 10 * time.Second
	}
	if t.SettleDelay <= 0 {
		t.SettleDelay = 5 * time.Second
	}
	if t.ForceGrace <= 0 {
		t.ForceGrace = 2 * time.Second
	}
	if t.OpTimeout <= 0 {
		t.OpTimeout = time.Minute
	}
}

// Options 协调器依赖
type Options struct {
	Tabs      TabHandle
	Simulator Simulator
	Store     Store
	History   History  // 可选
	Notifier  Notifier // 可选
	Logger    logger.Logger
	Clock     clock.WithDelayedExecution
	Rand      func(n int64) int64 // 返回 [0,n) 的随机数
	Pages     []string
	Timing    Timing
}

// Coordinator 会话保活协调器，持有配置、运行时状态与四个计时器
type Coordinator struct {
	tabs     TabHandle
	sim      Simulator
	store    Store
	history  History
	notifier Notifier
	log      logger.Logger
	clock    clock.WithDelayedExecution
	randN    func(n int64) int64
	pages    []string
	timing   Timing

	ctx    context.Context
	cancel context.CancelFunc

	wg      sync.WaitGroup
	spawnMu sync.Mutex
	stopped bool

	persistMu sync.Mutex
	tabMu     sync.Mutex // 串行化所有标签页操作

	mu        sync.Mutex
	cfg       domain.Config
	state     domain.RuntimeState
	loops     [numLoops]loop
	runGen    uint64
	acquiring int
	closed    bool
}

// New 创建协调器，需调用 Init 加载持久化数据
func New(opts Options) (*Coordinator, error) {
	if opts.Tabs == nil || opts.Simulator == nil || opts.Store == nil {
		return nil, errors.New("keeper: tabs, simulator and store are required")
	}
	if len(opts.Pages) == 0 {
		return nil, errors.New("keeper: page rotation list is empty")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.Int64N
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	opts.Timing.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		tabs:     opts.Tabs,
		sim:      opts.Simulator,
		store:    opts.Store,
		history:  opts.History,
		notifier: opts.Notifier,
		log:      opts.Logger.With("component", "keeper"),
		clock:    opts.Clock,
		randN:    opts.Rand,
		pages:    append([]string(nil), opts.Pages...),
		timing:   opts.Timing,
		ctx:      ctx,
		cancel:   cancel,
		cfg:      domain.DefaultConfig(),
	}, nil
}

// Init 加载持久化的配置与状态，上次处于运行中时自动恢复
func (c *Coordinator) Init(ctx context.Context) error {
	cfg := domain.DefaultConfig()
	var state domain.RuntimeState

	if raw, ok, err := c.store.Lookup(ctx, model.SettingKeyConfig); err != nil {
		c.log.Err(err, "读取配置失败，使用默认配置")
	} else if ok {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			c.log.Err(err, "配置格式错误，使用默认配置")
			cfg = domain.DefaultConfig()
		}
	}
	if !cfg.Mode.Valid() {
		c.log.Warn("未知模式，回退为默认模式", "mode", string(cfg.Mode), "default", string(domain.DefaultMode))
		cfg.Mode = domain.DefaultMode
	}

	if raw, ok, err := c.store.Lookup(ctx, model.SettingKeyState); err != nil {
		c.log.Err(err, "读取运行状态失败")
	} else if ok {
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			c.log.Err(err, "运行状态格式错误，已重置")
			state = domain.RuntimeState{}
		}
	}
	// 上一个进程的标签页已随连接失效
	state.TabID = ""
	if state.CurrentPageIndex < 0 || state.CurrentPageIndex >= len(c.pages) {
		state.CurrentPageIndex = 0
	}

	resume := cfg.Enabled
	cfg.Enabled = false

	c.mu.Lock()
	c.cfg = cfg
	c.state = state
	c.mu.Unlock()

	if !resume {
		c.persist()
		return nil
	}
	c.log.Info("恢复上次的运行状态", "mode", string(cfg.Mode))
	_, err := c.Start(ctx)
	return err
}

// Close 停止所有计时器、等待进行中的回调并关闭标签页，配置中的 enabled 保持不变
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelAllLocked()
	c.refreshUptimeLocked()
	c.mu.Unlock()

	c.spawnMu.Lock()
	c.stopped = true
	c.spawnMu.Unlock()

	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.tabMu.Lock()
	err := c.tabs.Release(ctx)
	c.tabMu.Unlock()

	c.mu.Lock()
	c.state.TabID = ""
	c.mu.Unlock()
	c.persist()
	return err
}

// spawn 在独立协程中执行计时器回调，Close 之后不再派生
func (c *Coordinator) spawn(fn func()) {
	c.spawnMu.Lock()
	if c.stopped {
		c.spawnMu.Unlock()
		return
	}
	c.wg.Add(1)
	c.spawnMu.Unlock()

	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// persist 将配置与状态作为一个事务写入，失败只记录日志
func (c *Coordinator) persist() {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	cfg, state := c.cfg, c.state
	c.mu.Unlock()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		c.log.Err(err, "序列化配置失败")
		return
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		c.log.Err(err, "序列化运行状态失败")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SetMultiple(ctx, map[string]string{
		model.SettingKeyConfig: string(cfgJSON),
		model.SettingKeyState:  string(stateJSON),
	}); err != nil {
		c.log.Err(err, "保存设置失败")
	}
}

// record 追加一条活动历史
func (c *Coordinator) record(evt domain.ActivityEvent) {
	if c.history == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = c.clock.Now().UnixMilli()
	}
	c.history.Record(evt)
}

// notify 通知开启时发出用户提示，不能在持有 mu 时调用
func (c *Coordinator) notify(title, msg string) {
	c.mu.Lock()
	on := c.cfg.Notifications
	c.mu.Unlock()
	if on {
		c.notifier.Notify(title, msg)
	}
}

func (c *Coordinator) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.timing.OpTimeout)
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// randomDelay 在 [min,max] 内按毫秒均匀取值（含两端）
func (c *Coordinator) randomDelay(min, max time.Duration) time.Duration {
	lo, hi := min.Milliseconds(), max.Milliseconds()
	if hi <= lo {
		return min
	}
	return time.Duration(lo+c.randN(hi-lo+1)) * time.Millisecond
}

func (c *Coordinator) refreshUptimeLocked() {
	if c.cfg.Enabled && c.state.StartTime != nil {
		c.state.UptimeMS = c.clock.Since(*c.state.StartTime).Milliseconds()
	}
}

func (c *Coordinator) currentPageLocked() string {
	return c.pages[c.state.CurrentPageIndex%len(c.pages)]
}

func (c *Coordinator) viewLocked() domain.StateView {
	st := c.state
	return domain.StateView{
		Config: c.cfg,
		State: domain.StateDetail{
			RuntimeState:    st,
			CurrentPage:     c.currentPageLocked(),
			IsRunning:       c.cfg.Enabled,
			UptimeFormatted: domain.FormatUptime(st.Uptime()),
		},
		ModeSettings: domain.NewProfileView(c.cfg.Mode.Profile()),
	}
}
