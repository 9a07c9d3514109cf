package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"time"

	"tabkeeper/internal/httpapi"
	"tabkeeper/pkg/api"
	"tabkeeper/pkg/domain"
)

// ErrDaemonNotAvailable 守护进程未启动或地址错误
var ErrDaemonNotAvailable = errors.New("tabkeeper daemon is not running")

// CommandError 守护进程返回 success=false 时的错误
type CommandError struct {
	Action  string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Client 命令协议的 HTTP 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建客户端，addr 可以是 host:port 或完整 URL
func New(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// Do 发送一条命令并返回原始响应，success=false 时同时返回 *CommandError
func (c *Client) Do(ctx context.Context, req api.Request) (api.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return api.Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+httpapi.CommandPath, bytes.NewReader(body))
	if err != nil {
		return api.Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return api.Response{}, fmt.Errorf("%w at %s", ErrDaemonNotAvailable, c.baseURL)
		}
		return api.Response{}, fmt.Errorf("%s request: %w", req.Action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return api.Response{}, fmt.Errorf("%s: daemon returned HTTP %d", req.Action, resp.StatusCode)
	}

	var res api.Response
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return api.Response{}, fmt.Errorf("decode %s response: %w", req.Action, err)
	}
	if !res.Success {
		return res, &CommandError{Action: req.Action, Message: res.Error}
	}
	return res, nil
}

func (c *Client) state(ctx context.Context, action string) (domain.StateView, error) {
	res, err := c.Do(ctx, api.Request{Action: action})
	if err != nil {
		return domain.StateView{}, err
	}
	if res.State == nil {
		return domain.StateView{}, fmt.Errorf("%s: response carries no state", action)
	}
	return *res.State, nil
}

// Start 启动保活
func (c *Client) Start(ctx context.Context) (domain.StateView, error) {
	return c.state(ctx, api.ActionStart)
}

// Stop 停止保活
func (c *Client) Stop(ctx context.Context) (domain.StateView, error) {
	return c.state(ctx, api.ActionStop)
}

// State 查询当前状态
func (c *Client) State(ctx context.Context) (domain.StateView, error) {
	return c.state(ctx, api.ActionGetState)
}

// UpdateConfig 提交部分配置，返回合并后的完整配置
func (c *Client) UpdateConfig(ctx context.Context, partial map[string]any) (domain.Config, error) {
	raw, err := json.Marshal(partial)
	if err != nil {
		return domain.Config{}, fmt.Errorf("marshal config: %w", err)
	}
	res, err := c.Do(ctx, api.Request{Action: api.ActionUpdateConfig, Config: raw})
	if err != nil {
		return domain.Config{}, err
	}
	if res.Config == nil {
		return domain.Config{}, errors.New("updateConfig: response carries no config")
	}
	return *res.Config, nil
}

// ResetStats 重置统计
func (c *Client) ResetStats(ctx context.Context) error {
	_, err := c.Do(ctx, api.Request{Action: api.ActionResetStats})
	return err
}

// ForceActivity 立即执行一次活动
func (c *Client) ForceActivity(ctx context.Context) error {
	_, err := c.Do(ctx, api.Request{Action: api.ActionForceActivity})
	return err
}

// ForceRotation 立即轮换页面
func (c *Client) ForceRotation(ctx context.Context) error {
	_, err := c.Do(ctx, api.Request{Action: api.ActionForceRotation})
	return err
}

// History 查询最近的活动历史
func (c *Client) History(ctx context.Context, limit int) ([]domain.ActivityEvent, error) {
	res, err := c.Do(ctx, api.Request{Action: api.ActionGetHistory, Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}
