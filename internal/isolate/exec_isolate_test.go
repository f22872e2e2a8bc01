package isolate

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"noded/pkg/types"
)

func writeScript(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecIsolateSpawnRunsCommand(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho line-one\necho line-two\n")
	iso := NewExecIsolate()
	manifest := types.Manifest{Name: "echo", Slave: script}

	h, err := iso.Spawn(context.Background(), manifest, "slave-1", nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("expected positive pid, got %d", h.PID())
	}
	scanner := bufio.NewScanner(h.Stdout())
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(lines) != 2 || lines[0] != "line-one" || lines[1] != "line-two" {
		t.Fatalf("got lines %v", lines)
	}
	// Wait is safe to call again.
	if err := h.Wait(); err != nil {
		t.Fatalf("second wait: %v", err)
	}
}

func TestExecIsolateSpawnMissingExecutable(t *testing.T) {
	iso := NewExecIsolate()
	manifest := types.Manifest{Name: "missing", Slave: filepath.Join(t.TempDir(), "does-not-exist")}

	if _, err := iso.Spawn(context.Background(), manifest, "slave-1", nil); err == nil {
		t.Fatalf("expected error spawning missing executable")
	}
}

func TestExecIsolateKill(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nsleep 5\n")
	iso := NewExecIsolate()
	manifest := types.Manifest{Name: "sleeper", Slave: script}

	h, err := iso.Spawn(context.Background(), manifest, "slave-1", nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	_ = h.Wait()
}
