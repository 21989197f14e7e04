package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandlerScopesUnitAndArch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, slog.LevelInfo)).
		With("component", "container", "unit", "app")
	logger.Warn("image outdated", "arch", "armhf", "image", "clickable/amd64-16.04-armhf")

	want := "WARN [app armhf] image outdated component=container image=clickable/amd64-16.04-armhf\n"
	if got := buf.String(); got != want {
		t.Fatalf("line = %q, want %q", got, want)
	}
}

func TestConsoleHandlerGroupsAndQuoting(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, slog.LevelInfo))
	logger.WithGroup("device").Info("channel unavailable", "unit", "adb", "error", errors.New("no devices attached"))

	line := buf.String()
	if strings.Contains(line, "[") {
		t.Fatalf("grouped unit attribute became a scope: %q", line)
	}
	for _, want := range []string{"device.unit=adb", `device.error="no devices attached"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("line = %q, missing %q", line, want)
		}
	}
}

func TestConsoleHandlerDebugCarriesTimestamp(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var level slog.LevelVar
	level.Set(slog.LevelWarn)

	logger := slog.New(newConsoleHandler(&buf, &level))
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}

	level.Set(slog.LevelDebug)
	logger.Debug("running command")
	line := buf.String()
	if !strings.Contains(line, " DEBUG running command") || strings.HasPrefix(line, "DEBUG") {
		t.Fatalf("debug line = %q, want timestamp before the level", line)
	}
}

func TestNewNonTerminalWritesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(&buf, nil).Info("build completed", "unit", "app")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Unmarshal(%q) error = %v", buf.String(), err)
	}
	if record["msg"] != "build completed" || record["unit"] != "app" {
		t.Fatalf("record = %v", record)
	}
}
