package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"tabkeeper/internal/logger"
	"tabkeeper/pkg/domain"
	"tabkeeper/pkg/errx"
)

// Kind 单个活动步骤类型
type Kind string

const (
	KindScroll      Kind = "scroll"
	KindMouseMove   Kind = "mousemove"
	KindFocus       Kind = "focus"
	KindHover       Kind = "hover"
	KindMicroScroll Kind = "microScroll"
	KindKeypress    Kind = "keypress"
	KindStorage     Kind = "storage"
)

// AllKinds 全部活动类型，前五种为低调活动
var AllKinds = []Kind{KindScroll, KindMouseMove, KindFocus, KindHover, KindMicroScroll, KindKeypress, KindStorage}

// Driver 模拟器在页面内使用的操作
type Driver interface {
	Evaluate(ctx context.Context, expr string) (json.RawMessage, error)
	MouseMove(ctx context.Context, x, y float64) error
	Wheel(ctx context.Context, x, y, dx, dy float64) error
	Key(ctx context.Context, key, code string, keyCode int) error
}

// PageSource 根据标签页 ID 获取页面操作
type PageSource func(ctx context.Context, id domain.TabID) (Driver, error)

// Options 模拟器选项
type Options struct {
	Rand   *rand.Rand
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger logger.Logger
}

// Simulator 通过 CDP 输入事件在受管标签页内模拟用户活动
type Simulator struct {
	pages PageSource
	sleep func(ctx context.Context, d time.Duration) error
	log   logger.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// New 创建活动模拟器
func New(pages PageSource, opts Options) *Simulator {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Simulator{
		pages: pages,
		sleep: opts.Sleep,
		log:   opts.Logger.With("component", "simulator"),
		rnd:   opts.Rand,
	}
}

type viewport struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Perform 在标签页内执行一次活动周期
//
// 非强制周期在页面可见且有焦点时跳过，视为用户正在使用。
// 每个周期最后都写一次 sessionStorage 心跳。
func (s *Simulator) Perform(ctx context.Context, id domain.TabID, req domain.ActivityRequest) error {
	d, err := s.pages(ctx, id)
	if err != nil {
		return err
	}

	if !req.Forced {
		present, err := s.userPresent(ctx, d)
		if err != nil && errx.Is(err, errx.CodeTabGone) {
			return err
		}
		if present {
			s.log.Info("用户正在使用页面，跳过模拟", "tabId", string(id))
			return nil
		}
	}

	vp := s.viewport(ctx, d)
	kinds := s.Pick(req.Mode)
	s.log.Debug("执行活动周期", "tabId", string(id), "mode", string(req.Mode), "forced", req.Forced, "steps", len(kinds))

	for _, k := range kinds {
		if err := s.run(ctx, d, k, vp); err != nil {
			if errx.Is(err, errx.CodeTabGone) || ctx.Err() != nil {
				return err
			}
			s.log.Debug("活动步骤失败", "kind", string(k), "error", err.Error())
		}
		if err := s.pause(ctx, 100, 500); err != nil {
			return err
		}
	}
	return s.storageHeartbeat(ctx, d)
}

// Pick 按模式随机选择本周期的活动步骤（不重复）
func (s *Simulator) Pick(mode domain.Mode) []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch mode {
	case domain.ModeStealth:
		return s.pickLocked(AllKinds[:5], 1+s.rnd.IntN(2))
	case domain.ModeBalanced:
		return s.pickLocked(AllKinds, 3+s.rnd.IntN(2))
	case domain.ModeAggressive:
		return s.pickLocked(AllKinds, 4+s.rnd.IntN(3))
	default:
		return s.pickLocked(AllKinds, 3)
	}
}

func (s *Simulator) pickLocked(from []Kind, n int) []Kind {
	if n > len(from) {
		n = len(from)
	}
	out := make([]Kind, 0, n)
	for _, i := range s.rnd.Perm(len(from))[:n] {
		out = append(out, from[i])
	}
	return out
}

func (s *Simulator) between(min, max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + s.rnd.IntN(max-min+1)
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

func (s *Simulator) pause(ctx context.Context, minMS, maxMS int) error {
	return s.sleep(ctx, time.Duration(s.between(minMS, maxMS))*time.Millisecond)
}

func (s *Simulator) run(ctx context.Context, d Driver, k Kind, vp viewport) error {
	switch k {
	case KindScroll:
		return s.scroll(ctx, d, vp)
	case KindMouseMove:
		return s.mouseMove(ctx, d, vp)
	case KindFocus:
		_, err := d.Evaluate(ctx, focusScript)
		return err
	case KindHover:
		return s.hover(ctx, d, vp)
	case KindMicroScroll:
		return s.microScroll(ctx, d, vp)
	case KindKeypress:
		return s.keypress(ctx, d)
	case KindStorage:
		return s.storageHeartbeat(ctx, d)
	}
	return fmt.Errorf("unknown activity %q", k)
}

func (s *Simulator) userPresent(ctx context.Context, d Driver) (bool, error) {
	raw, err := d.Evaluate(ctx, presenceScript)
	if err != nil {
		return false, err
	}
	var present bool
	_ = json.Unmarshal(raw, &present)
	return present, nil
}

func (s *Simulator) viewport(ctx context.Context, d Driver) viewport {
	vp := viewport{W: 1280, H: 800}
	raw, err := d.Evaluate(ctx, viewportScript)
	if err != nil {
		return vp
	}
	var got viewport
	if json.Unmarshal(raw, &got) == nil && got.W > 0 && got.H > 0 {
		vp = got
	}
	return vp
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
