package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of the logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRunHeadlessScript(t *testing.T) {
	script := writeFile(t, "call.ndjson", `
{"after":"10ms","event":"result","resultIndex":0,"results":[{"transcript":"hello","isFinal":false}]}
{"after":"10ms","event":"result","resultIndex":0,"results":[{"transcript":"hello","isFinal":true}]}
{"after":"10ms","event":"result","resultIndex":1,"results":[{"transcript":"hello","isFinal":true},{"transcript":"world","isFinal":true}]}
`)

	var stdout, stderr syncBuffer
	code := run([]string{"-script", script, "-for", "300ms", "run"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, stderr.String())
	}

	got := strings.TrimSpace(stdout.String())
	if got != "[00:00] hello world" {
		t.Errorf("notes = %q, want %q", got, "[00:00] hello world")
	}
	if !strings.Contains(stderr.String(), "note saved") {
		t.Errorf("log does not mention the saved note:\n%s", stderr.String())
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	var stdout, stderr syncBuffer
	if code := run([]string{"record"}, &stdout, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "usage:") {
		t.Error("expected usage text")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := writeFile(t, "bad.yaml", "segment:\n  silence: -1s\n")

	var stdout, stderr syncBuffer
	if code := run([]string{"-config", cfg, "run"}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "segment.silence") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestScriptFlagCompletesConfigFile(t *testing.T) {
	cfg := writeFile(t, "script.yaml", "recognizer:\n  kind: script\n")
	script := writeFile(t, "call.ndjson", `{"after":"10ms","event":"result","resultIndex":0,"results":[{"transcript":"hi","isFinal":true}]}`+"\n")

	got, err := loadConfig(cfg, script, "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got.Recognizer.Script != script {
		t.Errorf("script = %q", got.Recognizer.Script)
	}

	if _, err := loadConfig(cfg, "", ""); err == nil {
		t.Error("a script kind without any path should be rejected")
	}
}

func TestRunMissingScript(t *testing.T) {
	var stdout, stderr syncBuffer
	missing := filepath.Join(t.TempDir(), "missing.ndjson")
	if code := run([]string{"-script", missing, "run"}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestVersion(t *testing.T) {
	var stdout, stderr syncBuffer
	if code := run([]string{"-version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "callnotes ") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestBridgeURL(t *testing.T) {
	tests := []struct {
		listen string
		want   string
	}{
		{"127.0.0.1:8787", "http://127.0.0.1:8787"},
		{":8787", "http://localhost:8787"},
		{"0.0.0.0:9000", "http://localhost:9000"},
		{"[::]:9000", "http://localhost:9000"},
	}
	for _, tt := range tests {
		if got := bridgeURL(tt.listen); got != tt.want {
			t.Errorf("bridgeURL(%q) = %q, want %q", tt.listen, got, tt.want)
		}
	}
}
