package dashboard

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"tabkeeper/pkg/domain"
)

// PollInterval 状态轮询周期
const PollInterval = time.Second

const historySize = 8

// Backend 仪表盘依赖的命令接口
type Backend interface {
	State(ctx context.Context) (domain.StateView, error)
	Start(ctx context.Context) (domain.StateView, error)
	Stop(ctx context.Context) (domain.StateView, error)
	UpdateConfig(ctx context.Context, partial map[string]any) (domain.Config, error)
	ResetStats(ctx context.Context) error
	ForceActivity(ctx context.Context) error
	ForceRotation(ctx context.Context) error
	History(ctx context.Context, limit int) ([]domain.ActivityEvent, error)
}

// --- Messages ---

type tickMsg time.Time

type stateMsg struct {
	view   domain.StateView
	events []domain.ActivityEvent
	err    error
}

type actionMsg struct {
	notice string
	err    error
}

// Model 终端仪表盘
type Model struct {
	backend Backend
	now     func() time.Time

	view    domain.StateView
	events  []domain.ActivityEvent
	loaded  bool
	err     error
	notice  string
	busy    bool
	width   int
}

// NewModel 创建仪表盘
func NewModel(b Backend) Model {
	return Model{backend: b, now: time.Now}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refresh() tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), PollInterval)
		defer cancel()
		view, err := b.State(ctx)
		if err != nil {
			return stateMsg{err: err}
		}
		events, err := b.History(ctx, historySize)
		return stateMsg{view: view, events: events, err: err}
	}
}

// run 在后台执行一次命令，完成后立即刷新
func (m Model) run(notice string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return actionMsg{notice: notice, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case stateMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.loaded = true
		m.view = msg.view
		m.events = msg.events
		return m, nil

	case actionMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			m.notice = ""
		} else {
			m.err = nil
			m.notice = msg.notice
		}
		return m, m.refresh()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "q" || key == "ctrl+c" {
		return m, tea.Quit
	}
	if m.busy || !m.loaded {
		return m, nil
	}

	b := m.backend
	var cmd tea.Cmd
	switch key {
	case "s":
		if m.view.Config.Enabled {
			cmd = m.run("Keep-alive stopped", func(ctx context.Context) error {
				_, err := b.Stop(ctx)
				return err
			})
		} else {
			cmd = m.run("Keep-alive started", func(ctx context.Context) error {
				_, err := b.Start(ctx)
				return err
			})
		}
	case "a":
		if !m.view.State.IsRunning {
			return m, nil
		}
		cmd = m.run("Activity performed", b.ForceActivity)
	case "r":
		if !m.view.State.IsRunning {
			return m, nil
		}
		cmd = m.run("Page rotated", b.ForceRotation)
	case "x":
		cmd = m.run("Statistics reset", b.ResetStats)
	case "m":
		next := nextMode(m.view.Config.Mode)
		cmd = m.run("Mode set to "+string(next), func(ctx context.Context) error {
			_, err := b.UpdateConfig(ctx, map[string]any{"mode": next})
			return err
		})
	default:
		return m, nil
	}
	m.busy = true
	m.notice = ""
	return m, cmd
}

func nextMode(cur domain.Mode) domain.Mode {
	modes := domain.Modes()
	for i, mode := range modes {
		if mode == cur {
			return modes[(i+1)%len(modes)]
		}
	}
	return domain.DefaultMode
}

func (m Model) View() string {
	header := titleStyle.Render("tabkeeper")
	if !m.loaded {
		body := dimStyle.Render("connecting...")
		if m.err != nil {
			body = errStyle.Render(m.err.Error())
		}
		return header + "\n\n" + body + "\n"
	}

	out := header + "\n" +
		renderModes(m.view.Config.Mode) + "\n" +
		boxStyle.Render(RenderStatus(m.view, m.now())) + "\n" +
		labelStyle.Render("Recent events") + "\n" +
		renderEvents(m.events) + "\n\n"

	switch {
	case m.err != nil:
		out += errStyle.Render(m.err.Error()) + "\n"
	case m.busy:
		out += dimStyle.Render("working...") + "\n"
	case m.notice != "":
		out += activeStyle.Render(m.notice) + "\n"
	}
	out += dimStyle.Render("s start/stop · a activity · r rotate · x reset · m mode · q quit")
	return out
}

// Run 启动仪表盘直到用户退出
func Run(b Backend) error {
	_, err := tea.NewProgram(NewModel(b), tea.WithAltScreen()).Run()
	return err
}
