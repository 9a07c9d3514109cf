package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tabkeeper/internal/config"
	"tabkeeper/internal/storage/db"
	"tabkeeper/pkg/domain"
)

func memoryConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Sqlite.Db = db.MemoryName
	return cfg
}

func TestApp_OpenStorage(t *testing.T) {
	a := NewApp(memoryConfig(), nil)
	ctx := context.Background()
	if err := a.openStorage(ctx); err != nil {
		t.Fatalf("openStorage: %v", err)
	}
	defer a.Shutdown(ctx)

	if err := a.settingsRepo.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := a.settingsRepo.Get(ctx, "k"); err != nil || got != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	events, err := a.activityRepo.Recent(ctx, 10)
	if err != nil || len(events) != 0 {
		t.Fatalf("Recent = %v, %v", events, err)
	}
}

func TestApp_StartupUnreachableBrowser(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := memoryConfig()
	cfg.Browser.DevToolsURL = url
	a := NewApp(cfg, nil)
	err := a.Startup(context.Background())
	if !errors.Is(err, domain.ErrDevToolsUnreachable) {
		t.Fatalf("err = %v, want ErrDevToolsUnreachable", err)
	}
	a.Shutdown(context.Background())
}

func TestApp_ShutdownWithoutStartup(t *testing.T) {
	NewApp(memoryConfig(), nil).Shutdown(context.Background())
}
