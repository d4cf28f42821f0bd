package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nopWriter{})
		SetDebug(false)
	})
	return &buf
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestLoggerFormatsComponentAndLevel(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("chat").Info("run %s started", "r1")

	line := buf.String()
	if !strings.Contains(line, "[chat] INFO: run r1 started") {
		t.Errorf("unexpected log line: %q", line)
	}
}

func TestDebugRespectsToggle(t *testing.T) {
	buf := captureOutput(t)
	logger := NewLogger("test")

	SetDebug(false)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output written while disabled: %q", buf.String())
	}

	SetDebug(true)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "DEBUG: visible") {
		t.Errorf("expected debug line, got %q", buf.String())
	}
}

func TestDomainFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(true, "provider")

	ctx := WithRunID(context.Background(), "run-42")
	Debug(ctx, "provider", "resolved %s", "openai")
	Debug(ctx, "consensus", "should be filtered")

	out := buf.String()
	if !strings.Contains(out, "[run-42] [provider] DEBUG: resolved openai") {
		t.Errorf("missing provider debug line: %q", out)
	}
	if strings.Contains(out, "should be filtered") {
		t.Errorf("consensus domain should be filtered: %q", out)
	}
	if !IsDebugEnabledForDomain("provider") || IsDebugEnabledForDomain("consensus") {
		t.Error("domain predicate disagrees with configuration")
	}
}

func TestRecentFiltersByDomain(t *testing.T) {
	captureOutput(t)
	SetDebug(true)
	start := time.Now().Add(-time.Second)

	Debug(context.Background(), "vfs-test-domain", "entry one")

	entries := Recent("vfs-test-domain", start)
	if len(entries) == 0 {
		t.Fatal("expected buffered entry for domain")
	}
	if entries[len(entries)-1].Message != "entry one" {
		t.Errorf("unexpected message %q", entries[len(entries)-1].Message)
	}
}

func TestWrap(t *testing.T) {
	captureOutput(t)

	if Wrap(nil, "noop") != nil {
		t.Error("wrapping nil should return nil")
	}
	base := errors.New("boom")
	err := Wrap(base, "open store")
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to base")
	}
	if err.Error() != "open store: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
