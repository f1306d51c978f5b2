// Package daemon starts the download server in the background and waits for it to serve.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ErrBinaryNotFound is returned by FindBinary when no candidate exists
var ErrBinaryNotFound = errors.New("server binary not found")

// Spawn starts path with args in a new session, stdio bound to the null device.
// It returns once the child has been started.
func Spawn(path string, args ...string) (int, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(path, args...)
	cmd.Env = os.Environ()
	if cwd, err := os.Getwd(); err == nil {
		cmd.Dir = cwd
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", filepath.Base(path), err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release child process: %w", err)
	}
	return pid, nil
}

// ServerArgs builds the arguments of a server child that must not detach again
func ServerArgs(configPath string) []string {
	args := []string{"-server-mode"}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	return args
}

// FindBinary looks for name next to the running executable, on PATH and then in dirs
func FindBinary(name string, dirs ...string) (string, error) {
	if self, err := os.Executable(); err == nil {
		if p := filepath.Join(filepath.Dir(self), name); isFile(p) {
			return p, nil
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	for _, dir := range dirs {
		if p := filepath.Join(dir, name); isFile(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
}

// DefaultDirs are the install locations searched after PATH
func DefaultDirs() []string {
	dirs := []string{"/usr/local/bin", "/usr/bin"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "go", "bin"), filepath.Join(home, ".local", "bin"))
	}
	return dirs
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// Healthy reports whether GET healthURL answers 200
func Healthy(ctx context.Context, client *http.Client, healthURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// WaitHealthy polls healthURL every interval until it is healthy or ctx ends
func WaitHealthy(ctx context.Context, healthURL string, interval time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if Healthy(ctx, client, healthURL) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("server not healthy at %s: %w", healthURL, ctx.Err())
		}
	}
}
