package obslog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBuildLegacyConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Build(Options{Level: "info", Format: "legacy", ToConsole: true}, zapcore.AddSync(&buf))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("match_start", zap.String("match_id", "42"))
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %q", out)
	}
	if !strings.Contains(out, " | INFO | ") || !strings.Contains(out, "match_start") {
		t.Fatalf("unexpected legacy line: %q", out)
	}
	if !strings.Contains(out, "obslog_test.go") {
		t.Fatalf("legacy format should carry the caller: %q", out)
	}
}

func TestBuildJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "companion.log")
	logger, err := Build(Options{Level: "debug", Format: "JSON", File: path, ToFile: true}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	logger.Debug("snapshot_cached", zap.Int("roster", 10))
	_ = logger.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"snapshot_cached"`) || !strings.Contains(string(b), `"level":"debug"`) {
		t.Fatalf("unexpected json line: %s", b)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLIsNopUntilInit(t *testing.T) {
	if L() == nil {
		t.Fatalf("L() must never be nil")
	}
	L().Info("ignored")
}
