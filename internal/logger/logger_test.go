package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ariefcatur/camrent-orders/internal/config"
)

func TestToZapFields(t *testing.T) {
	fields := toZapFields("order_id", "o-1", errors.New("boom"), "attempt", 2, zap.String("raw", "x"), 3.5, "dangling")
	if len(fields) != 5 {
		t.Fatalf("got %d fields, want 5: %v", len(fields), fields)
	}
	if fields[0].Key != "order_id" {
		t.Errorf("fields[0].Key = %q", fields[0].Key)
	}
	if fields[1].Key != "error" {
		t.Errorf("fields[1].Key = %q, want error", fields[1].Key)
	}
	if fields[3].Key != "raw" || fields[3].Type != zapcore.StringType {
		t.Errorf("fields[3] = %+v", fields[3])
	}
	if fields[4].Key != "field" {
		t.Errorf("fields[4].Key = %q, want field", fields[4].Key)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"":      zapcore.InfoLevel,
		"loud":  zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	l := New("debug", config.LogFileConfig{Enabled: true, Path: path, MaxSize: 1})
	l.Named("test").Info("hello", "k", "v")
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
