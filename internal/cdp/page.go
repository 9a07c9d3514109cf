package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tabkeeper/pkg/domain"
	"tabkeeper/pkg/errx"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/input"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
)

// Page 代表一个已附着的页面会话
type Page struct {
	ID     domain.TabID
	Client *cdp.Client
	conn   *rpcc.Conn
}

func (p *Page) alive() bool {
	return p.conn != nil && p.conn.Context().Err() == nil
}

// Close 关闭页面连接
func (p *Page) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Evaluate 在页面中执行表达式并按值返回结果
func (p *Page) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true)
	reply, err := p.Client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return nil, p.wrap(err, "evaluate")
	}
	if reply.ExceptionDetails != nil {
		return nil, fmt.Errorf("cdp: evaluate exception: %s", reply.ExceptionDetails.Text)
	}
	return reply.Result.Value, nil
}

// Navigate 让页面跳转到指定地址，不等待加载完成
func (p *Page) Navigate(ctx context.Context, url string) error {
	reply, err := p.Client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return p.wrap(err, "navigate")
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("cdp: navigate %s: %s", url, *reply.ErrorText)
	}
	return nil
}

// ReadyState 返回 document.readyState
func (p *Page) ReadyState(ctx context.Context) (string, error) {
	raw, err := p.Evaluate(ctx, "document.readyState")
	if err != nil {
		return "", err
	}
	var state string
	if err := json.Unmarshal(raw, &state); err != nil {
		return "", fmt.Errorf("cdp: decode readyState: %w", err)
	}
	return state, nil
}

// MouseMove 派发一次鼠标移动
func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	args := input.NewDispatchMouseEventArgs("mouseMoved", x, y)
	return p.wrap(p.Client.Input.DispatchMouseEvent(ctx, args), "mouseMoved")
}

// Wheel 在指定位置派发一次滚轮事件
func (p *Page) Wheel(ctx context.Context, x, y, dx, dy float64) error {
	args := input.NewDispatchMouseEventArgs("mouseWheel", x, y).SetDeltaX(dx).SetDeltaY(dy)
	return p.wrap(p.Client.Input.DispatchMouseEvent(ctx, args), "mouseWheel")
}

// Key 派发一次按键（按下并抬起），只用于不产生文本的修饰键
func (p *Page) Key(ctx context.Context, key, code string, keyCode int) error {
	down := input.NewDispatchKeyEventArgs("rawKeyDown").
		SetKey(key).SetCode(code).SetWindowsVirtualKeyCode(keyCode)
	if err := p.Client.Input.DispatchKeyEvent(ctx, down); err != nil {
		return p.wrap(err, "keyDown")
	}
	up := input.NewDispatchKeyEventArgs("keyUp").
		SetKey(key).SetCode(code).SetWindowsVirtualKeyCode(keyCode)
	return p.wrap(p.Client.Input.DispatchKeyEvent(ctx, up), "keyUp")
}

// wrap 将连接断开、目标不存在类错误归类为 TAB_GONE
func (p *Page) wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if !p.alive() || IsGone(err) {
		return errx.Wrap(errx.CodeTabGone, err, "tab gone during "+op)
	}
	return fmt.Errorf("cdp: %s: %w", op, err)
}

var goneMarkers = []string{
	"no target with given id",
	"target closed",
	"session with given id not found",
	"cannot find context with specified id",
	"inspected target navigated or closed",
}

// IsGone 判断错误是否表示目标或会话已不存在
func IsGone(err error) bool {
	if err == nil {
		return false
	}
	if errx.Is(err, errx.CodeTabGone) || errors.Is(err, rpcc.ErrConnClosing) || errors.Is(err, domain.ErrTabNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range goneMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
