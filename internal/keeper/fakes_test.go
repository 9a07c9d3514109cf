package keeper_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"tabkeeper/internal/keeper"
	"tabkeeper/pkg/domain"
	"tabkeeper/pkg/errx"

	testingclock "k8s.io/utils/clock/testing"
)

var testPages = []string{
	"https://example.com/",
	"https://example.com/inbox",
	"https://example.com/dashboard",
	"https://example.com/sellers",
}

type fakeTabs struct {
	mu          sync.Mutex
	seq         int
	current     domain.TabID
	acquired    []string
	navigated   []string
	released    int
	checks      int
	acquireErrs []error
	failHealth  int
	navErr      error
}

func (f *fakeTabs) Acquire(ctx context.Context, url string) (domain.TabID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.current = ""
	var err error
	if len(f.acquireErrs) > 0 {
		err, f.acquireErrs = f.acquireErrs[0], f.acquireErrs[1:]
	}
	if err != nil && !errx.Is(err, errx.CodeTabLoadTimeout) {
		return "", err
	}
	f.current = domain.TabID(fmt.Sprintf("tab-%d", f.seq))
	f.acquired = append(f.acquired, url)
	return f.current, err
}

func (f *fakeTabs) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navErr != nil {
		return f.navErr
	}
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeTabs) Release(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != "" {
		f.released++
		f.current = ""
	}
	return nil
}

func (f *fakeTabs) CheckHealth(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.failHealth > 0 {
		f.failHealth--
		return errx.New(errx.CodeTabGone, "tab unresponsive")
	}
	return nil
}

func (f *fakeTabs) snapshot() (acquired, navigated []string, released, checks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acquired...), append([]string(nil), f.navigated...), f.released, f.checks
}

type fakeSim struct {
	mu   sync.Mutex
	reqs []domain.ActivityRequest
	tabs []domain.TabID
	errs []error
}

func (s *fakeSim) Perform(ctx context.Context, id domain.TabID, req domain.ActivityRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	s.tabs = append(s.tabs, id)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func (s *fakeSim) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}}
}

func (s *fakeStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) SetMultiple(ctx context.Context, kvs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range kvs {
		s.data[k] = v
	}
	return nil
}

func (s *fakeStore) get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key]
}

type fakeHistory struct {
	mu     sync.Mutex
	events []domain.ActivityEvent
}

func (h *fakeHistory) Record(evt domain.ActivityEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
}

func (h *fakeHistory) Recent(ctx context.Context, limit int) ([]domain.ActivityEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.ActivityEvent, 0, len(h.events))
	for i := len(h.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.events[i])
	}
	return out, nil
}

func (h *fakeHistory) kinds() []domain.EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.EventKind, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

type env struct {
	clock    *testingclock.FakeClock
	tabs     *fakeTabs
	sim      *fakeSim
	store    *fakeStore
	history  *fakeHistory
	notifier *fakeNotifier
	k        *keeper.Coordinator
}

// newEnv 创建使用假时钟的协调器，随机延迟固定取区间最大值
func newEnv(t *testing.T, store *fakeStore, mutate func(*keeper.Options)) *env {
	t.Helper()
	if store == nil {
		store = newFakeStore()
	}
	e := &env{
		clock:    testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		tabs:     &fakeTabs{},
		sim:      &fakeSim{},
		store:    store,
		history:  &fakeHistory{},
		notifier: &fakeNotifier{},
	}
	opts := keeper.Options{
		Tabs:      e.tabs,
		Simulator: e.sim,
		Store:     e.store,
		History:   e.history,
		Notifier:  e.notifier,
		Clock:     e.clock,
		Rand:      func(n int64) int64 { return n - 1 },
		Pages:     testPages,
	}
	if mutate != nil {
		mutate(&opts)
	}
	k, err := keeper.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := k.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	e.k = k
	t.Cleanup(func() { _ = k.Close() })
	return e
}

// step 推进假时钟并等待触发的回调结束
func (e *env) step(d time.Duration) {
	e.clock.Step(d)
	e.k.WaitIdle()
}

// advance 以 inc 为步长推进 total
func (e *env) advance(total, inc time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += inc {
		e.step(inc)
	}
}

func (e *env) start(t *testing.T) domain.StateView {
	t.Helper()
	view, err := e.k.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return view
}

func (e *env) setConfig(t *testing.T, raw string) {
	t.Helper()
	if _, err := e.k.UpdateConfig(context.Background(), []byte(raw)); err != nil {
		t.Fatalf("UpdateConfig(%s): %v", raw, err)
	}
}

func waitForWaiters(t *testing.T, fc *testingclock.FakeClock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !fc.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatal("等待计时器注册超时")
		}
		time.Sleep(time.Millisecond)
	}
}
