package clog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestContextAttributes(t *testing.T) {
	ctx := ContextWithAttributes(context.Background())
	AddAttribute(ctx, "agent", "worker-1")
	AddAttribute(ctx, "task_id", "abc")

	attrs := GetAttributes(ctx)
	if attrs["agent"] != "worker-1" {
		t.Errorf("agent attribute = %v", attrs["agent"])
	}
	if attrs["task_id"] != "abc" {
		t.Errorf("task_id attribute = %v", attrs["task_id"])
	}
}

func TestAddAttributeWithoutContainerIsNoop(t *testing.T) {
	ctx := context.Background()
	AddAttribute(ctx, "agent", "worker-1")
	if attrs := GetAttributes(ctx); len(attrs) != 0 {
		t.Errorf("attributes leaked into a bare context: %v", attrs)
	}
}

func TestAttributesHandlerInjectsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewAttributesHandler(slog.NewTextHandler(&buf, nil)))

	ctx := ContextWithAttributes(context.Background())
	AddAttribute(ctx, "agent", "worker-1")
	logger.InfoContext(ctx, "agent connected")

	out := buf.String()
	if !strings.Contains(out, "agent connected") {
		t.Errorf("log output missing message: %s", out)
	}
	if !strings.Contains(out, "agent=worker-1") {
		t.Errorf("log output missing context attribute: %s", out)
	}
}

func TestTextHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, WithColor(false), WithLevel(slog.LevelWarn)))

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("warn line missing: %s", out)
	}
}
