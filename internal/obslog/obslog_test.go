package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitWritesJSONFile(t *testing.T) {
	prev := L()
	t.Cleanup(func() { Set(prev) })

	path := filepath.Join(t.TempDir(), "nested", "chess.log")
	if err := Init(Config{Level: "debug", Format: "json", ToFile: true, File: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Named("room").Info("room_open", zap.String("room", "chess-abc123"))
	Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(raw)
	if !strings.Contains(line, `"msg":"room_open"`) || !strings.Contains(line, `"logger":"room"`) {
		t.Fatalf("unexpected log line: %s", line)
	}
}

func TestSetAndParseLevel(t *testing.T) {
	prev := L()
	t.Cleanup(func() { Set(prev) })

	core, logs := observer.New(zapcore.WarnLevel)
	Set(zap.New(core))
	L().Info("dropped")
	L().Warn("kept")
	if logs.Len() != 1 || logs.All()[0].Message != "kept" {
		t.Fatalf("observer saw %d entries", logs.Len())
	}

	Set(nil)
	L().Info("nop logger must not panic")

	if parseLevel("WARNING") != zapcore.WarnLevel || parseLevel("bogus") != zapcore.InfoLevel {
		t.Fatalf("parseLevel mismatch")
	}
}
