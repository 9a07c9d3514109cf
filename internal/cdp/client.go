package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tabkeeper/internal/logger"
	"tabkeeper/pkg/domain"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"
)

const dialTimeout = 10 * time.Second

// ClientManager 负责管理与浏览器的 CDP 连接
//
// 浏览器级连接用于创建/关闭目标和订阅目标事件，
// 页面级连接用于在受管标签页内派发输入和执行脚本。
type ClientManager struct {
	devtoolsURL string
	log         logger.Logger

	mu          sync.Mutex
	browser     *cdp.Client
	browserConn *rpcc.Conn
	pages       map[domain.TabID]*Page
}

// NewClientManager 创建 CDP 客户端管理器
func NewClientManager(url string, l logger.Logger) *ClientManager {
	if l == nil {
		l = logger.NewNop()
	}
	return &ClientManager{
		devtoolsURL: url,
		log:         l.With("component", "cdp"),
		pages:       make(map[domain.TabID]*Page),
	}
}

// DevToolsURL 返回当前使用的 DevTools 地址
func (m *ClientManager) DevToolsURL() string {
	return m.devtoolsURL
}

// TestConnection 测试与浏览器的连通性
func (m *ClientManager) TestConnection(ctx context.Context) error {
	if _, err := devtool.New(m.devtoolsURL).Version(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDevToolsUnreachable, err)
	}
	return nil
}

// HasTarget 判断页面目标是否仍存在于浏览器中
func (m *ClientManager) HasTarget(ctx context.Context, id domain.TabID) (bool, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrDevToolsUnreachable, err)
	}
	for _, t := range targets {
		if t != nil && t.Type == devtool.Page && t.ID == string(id) {
			return true, nil
		}
	}
	return false, nil
}

// Browser 返回浏览器级客户端，连接断开后自动重连
func (m *ClientManager) Browser(ctx context.Context) (*cdp.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil && m.browserConn.Context().Err() == nil {
		return m.browser, nil
	}

	ver, err := devtool.New(m.devtoolsURL).Version(ctx)
	if err != nil {
		m.log.Err(err, "获取浏览器版本信息失败", "url", m.devtoolsURL)
		return nil, fmt.Errorf("%w: %v", domain.ErrDevToolsUnreachable, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := rpcc.DialContext(dialCtx, ver.WebSocketDebuggerURL)
	if err != nil {
		m.log.Err(err, "浏览器连接建立失败", "wsURL", ver.WebSocketDebuggerURL)
		return nil, err
	}

	m.browserConn = conn
	m.browser = cdp.NewClient(conn)
	m.log.Info("浏览器连接成功", "browser", ver.Browser)
	return m.browser, nil
}

// AttachPage 附着到一个页面目标，已附着且连接存活时复用
func (m *ClientManager) AttachPage(ctx context.Context, id domain.TabID) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pages[id]; ok {
		if p.alive() {
			return p, nil
		}
		delete(m.pages, id)
		_ = p.Close()
	}

	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		m.log.Err(err, "获取 Target 列表失败")
		return nil, fmt.Errorf("%w: %v", domain.ErrDevToolsUnreachable, err)
	}

	var target *devtool.Target
	for _, t := range targets {
		if t != nil && t.ID == string(id) {
			target = t
			break
		}
	}
	if target == nil {
		m.log.Warn("Target 未找到", "targetID", string(id))
		return nil, fmt.Errorf("%w: %s", domain.ErrTabNotFound, id)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := rpcc.DialContext(dialCtx, target.WebSocketDebuggerURL,
		rpcc.WithWriteBufferSize(1024*1024),
		rpcc.WithCompression())
	if err != nil {
		m.log.Err(err, "CDP 连接建立失败", "targetID", string(id), "wsURL", target.WebSocketDebuggerURL)
		return nil, err
	}

	p := &Page{ID: id, Client: cdp.NewClient(conn), conn: conn}
	m.pages[id] = p
	m.log.Debug("Target 附着成功", "targetID", string(id), "url", target.URL)
	return p, nil
}

// DetachPage 断开与页面目标的连接
func (m *ClientManager) DetachPage(id domain.TabID) error {
	m.mu.Lock()
	p, ok := m.pages[id]
	delete(m.pages, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Close()
}

// Close 断开所有连接
func (m *ClientManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.pages {
		_ = p.Close()
		delete(m.pages, id)
	}
	if m.browserConn != nil {
		err := m.browserConn.Close()
		m.browserConn = nil
		m.browser = nil
		return err
	}
	return nil
}
