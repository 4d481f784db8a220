// Package capture drives an external tool that saves a report the browser
// has opened, then files the saved artifact under a name derived from the
// work key.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds one tool invocation.
const DefaultTimeout = 1500 * time.Millisecond

// Failure is a per-key capture failure. The key is retried in the second
// sweep.
type Failure struct {
	Key    string
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("capture %s: %s: %v", f.Key, f.Reason, f.Err)
	}
	return fmt.Sprintf("capture %s: %s", f.Key, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Deferrable() bool { return true }

// Tool is an external program run once per key.
type Tool struct {
	Path    string        `yaml:"path"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// Run executes the tool with env appended to the current environment. A
// timeout or non-zero exit is a *Failure; cancellation of ctx is returned
// as is.
func (t Tool) Run(ctx context.Context, key string, env ...string) error {
	if t.Path == "" {
		return fmt.Errorf("capture tool path is empty")
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.Path, t.Args...)
	cmd.Env = append(os.Environ(), env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 500 * time.Millisecond

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &Failure{Key: key, Reason: fmt.Sprintf("tool timed out after %s", timeout), Err: err}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = exitErr.String()
		}
		return &Failure{Key: key, Reason: "tool failed: " + msg, Err: err}
	}
	return fmt.Errorf("failed to run capture tool: %w", err)
}
