package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// FsBridge reads and writes files inside a running container by shelling
// out to `docker exec`, the same way dockerSandbox.Exec runs commands.
type FsBridge struct {
	containerID string
	mountPath   string
}

// NewFsBridge builds a bridge rooted at mountPath inside the container
// identified by sandboxID (normally the workspace mount, "/workspace").
func NewFsBridge(sandboxID, mountPath string) *FsBridge {
	return &FsBridge{containerID: sandboxID, mountPath: mountPath}
}

func (b *FsBridge) resolve(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return b.mountPath + "/" + path
}

// ReadFile returns the contents of path inside the container.
func (b *FsBridge) ReadFile(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "exec", b.containerID, "cat", b.resolve(path))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("read %s in sandbox: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// WriteFile overwrites path inside the container with content, creating
// parent directories as needed.
func (b *FsBridge) WriteFile(ctx context.Context, path, content string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resolved := b.resolve(path)
	dir := resolved[:strings.LastIndex(resolved, "/")]
	if dir != "" {
		if out, err := exec.CommandContext(ctx, "docker", "exec", b.containerID, "mkdir", "-p", dir).CombinedOutput(); err != nil {
			return fmt.Errorf("mkdir %s in sandbox: %w: %s", dir, err, strings.TrimSpace(string(out)))
		}
	}

	cmd := exec.CommandContext(ctx, "docker", "exec", "-i", b.containerID, "tee", resolved)
	cmd.Stdin = strings.NewReader(content)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = nil
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write %s in sandbox: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ListFiles lists entries directly under path inside the container.
func (b *FsBridge) ListFiles(ctx context.Context, path string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "exec", b.containerID, "ls", "-1A", b.resolve(path))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("list %s in sandbox: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	var entries []string
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		if line != "" {
			entries = append(entries, line)
		}
	}
	return entries, nil
}
