package simulator

import (
	"context"
	"encoding/json"
	"math"
)

const presenceScript = `document.visibilityState === "visible" && document.hasFocus()`

const viewportScript = `({w: window.innerWidth, h: window.innerHeight})`

const focusScript = `(() => {
  window.focus();
  window.dispatchEvent(new FocusEvent("focus"));
  document.dispatchEvent(new Event("visibilitychange"));
  return true;
})()`

// 只挑选悬停后不会触发跳转的元素
const hoverScript = `(() => {
  const sel = ["button", "[role=button]", "nav a", "a", "img", "h2", "h3"];
  let els = [];
  for (const s of sel) {
    els.push(...document.querySelectorAll(s));
    if (els.length >= 10) break;
  }
  els = els.filter(e => {
    const r = e.getBoundingClientRect();
    return r.width > 0 && r.height > 0 && r.top >= 0 && r.top < window.innerHeight;
  });
  if (!els.length) return null;
  const r = els[Math.floor(Math.random() * els.length)].getBoundingClientRect();
  return {x: r.left + r.width / 2, y: r.top + r.height / 2};
})()`

const storageScript = `(() => {
  try {
    const ts = Date.now();
    sessionStorage.setItem("tabkeeper_heartbeat", String(ts));
    sessionStorage.setItem("last_activity", String(ts));
    sessionStorage.setItem("tabkeeper_activity_data", JSON.stringify({timestamp: ts, type: "heartbeat", random: Math.random()}));
    return true;
  } catch (e) {
    return false;
  }
})()`

var scrollDistances = []float64{150, 300, -100, 50}

func (s *Simulator) scroll(ctx context.Context, d Driver, vp viewport) error {
	dy := scrollDistances[s.between(0, len(scrollDistances)-1)]
	return d.Wheel(ctx, vp.W/2, vp.H/2, 0, dy)
}

// microScroll 模拟阅读时的小幅滚动
func (s *Simulator) microScroll(ctx context.Context, d Driver, vp viewport) error {
	dy := 20.0
	if s.float() < 0.5 {
		dy = -20
	}
	for i := 0; i < 3; i++ {
		if err := d.Wheel(ctx, vp.W/2, vp.H/2, 0, dy); err != nil {
			return err
		}
		if err := s.pause(ctx, 300, 800); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) mouseMove(ctx context.Context, d Driver, vp viewport) error {
	for _, p := range s.mousePath(s.between(3, 7), vp) {
		if err := d.MouseMove(ctx, p[0], p[1]); err != nil {
			return err
		}
		if err := s.pause(ctx, 50, 150); err != nil {
			return err
		}
	}
	return nil
}

// mousePath 每步向随机目标靠近三分之一并加入抖动，坐标限制在视口内
func (s *Simulator) mousePath(points int, vp viewport) [][2]float64 {
	x, y := s.float()*vp.W, s.float()*vp.H
	path := make([][2]float64, 0, points)
	for i := 0; i < points; i++ {
		tx, ty := s.float()*vp.W, s.float()*vp.H
		x += (tx-x)/3 + (s.float()-0.5)*20
		y += (ty-y)/3 + (s.float()-0.5)*20
		x = math.Max(0, math.Min(vp.W, x))
		y = math.Max(0, math.Min(vp.H, y))
		path = append(path, [2]float64{math.Floor(x), math.Floor(y)})
	}
	return path
}

func (s *Simulator) hover(ctx context.Context, d Driver, vp viewport) error {
	raw, err := d.Evaluate(ctx, hoverScript)
	if err != nil {
		return err
	}
	var pt *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(raw, &pt); err != nil || pt == nil {
		s.log.Debug("没有可悬停的元素")
		return nil
	}
	if err := d.MouseMove(ctx, pt.X, pt.Y); err != nil {
		return err
	}
	if err := s.pause(ctx, 500, 1500); err != nil {
		return err
	}
	return d.MouseMove(ctx, s.float()*vp.W, s.float()*vp.H)
}

// keypress 只按修饰键，不产生文本输入
func (s *Simulator) keypress(ctx context.Context, d Driver) error {
	if s.float() < 0.5 {
		return d.Key(ctx, "Shift", "ShiftLeft", 16)
	}
	return d.Key(ctx, "Control", "ControlLeft", 17)
}

func (s *Simulator) storageHeartbeat(ctx context.Context, d Driver) error {
	_, err := d.Evaluate(ctx, storageScript)
	return err
}
