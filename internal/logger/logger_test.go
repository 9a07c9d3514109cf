package logger_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tabkeeper/internal/logger"
)

func TestNew_FileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := logger.New(logger.Options{Level: "info", Writers: []string{"file"}, Filename: path})

	l.Debug("不应出现的调试日志")
	l.Info("标签页已创建", "tabId", "T1")
	l.With("cycle", "c1").Err(errors.New("boom"), "活动执行失败")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "不应出现的调试日志") {
		t.Error("info 级别下不应输出 debug 日志")
	}
	if !strings.Contains(out, `"tabId":"T1"`) {
		t.Errorf("日志缺少字段 tabId: %s", out)
	}
	if !strings.Contains(out, `"cycle":"c1"`) || !strings.Contains(out, "boom") {
		t.Errorf("子日志器字段或错误信息缺失: %s", out)
	}
}

func TestNew_NoWriters(t *testing.T) {
	l := logger.New(logger.Options{Level: "debug"})
	// 空日志器调用不应 panic
	l.Info("noop")
	l.With("k", "v").Warn("noop")
}

func TestDataDir(t *testing.T) {
	dir, err := logger.DataDir()
	if err != nil {
		t.Fatalf("获取数据目录失败: %v", err)
	}
	if !strings.Contains(dir, "tabkeeper") {
		t.Errorf("数据目录 %s 不包含应用名称", dir)
	}
}
