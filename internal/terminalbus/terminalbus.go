// Package terminalbus is the only component that talks to the terminal
// multiplexer (spec §4.1). Every other component reaches tmux exclusively
// through this package's Bus interface.
package terminalbus

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jpatrickfarrell/jat-sub014/internal/apperrors"
	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
)

// Bus is the interface the rest of the orchestrator depends on. Create,
// Rename, SendText, SendKeys, Capture, Exists, Kill and List may all fail
// with a transient "multiplexer unavailable" *apperrors.AppError. TmuxBus
// retries each call with backoff internally (see retry below), so that
// error reaches callers only once the retries are exhausted.
type Bus interface {
	Create(ctx context.Context, displayName, workingDir string, width, height int, initialCommand string) error
	Rename(ctx context.Context, oldName, newName string) error
	SendText(ctx context.Context, name, text string) error
	SendKeys(ctx context.Context, name string, keys ...string) error
	Capture(ctx context.Context, name string, maxLines int) (string, error)
	Exists(ctx context.Context, name string) (bool, error)
	Kill(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// TmuxBus shells out to the `tmux` binary, matching the exec.Command-based
// wrappers used throughout the retrieval pack's gastown-derived session
// managers.
type TmuxBus struct {
	log  *logging.Logger
	tmux string // path to the tmux binary
}

// New creates a TmuxBus. tmuxPath may be empty to use "tmux" from $PATH.
func New(log *logging.Logger, tmuxPath string) *TmuxBus {
	if tmuxPath == "" {
		tmuxPath = "tmux"
	}
	return &TmuxBus{log: log, tmux: tmuxPath}
}

// retry wraps a multiplexer call with the spec §5 policy: hard 5s wall
// clock, max 3 attempts, exponential backoff.
func (b *TmuxBus) retry(ctx context.Context, op string, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2) // 3 attempts total
	bo = backoff.WithContext(bo, ctx)

	err := backoff.Retry(fn, bo)
	if err != nil {
		return apperrors.Transient("TMUX_UNAVAILABLE", fmt.Sprintf("multiplexer unavailable during %s", op), err)
	}
	return nil
}

func (b *TmuxBus) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, b.tmux, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("tmux %s: %s", strings.Join(args, " "), strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// Exists reports whether a session of the given name exists.
func (b *TmuxBus) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := b.retry(ctx, "exists", func() error {
		_, err := b.run(ctx, "has-session", "-t", name)
		exists = err == nil
		if err != nil && strings.Contains(err.Error(), "can't find session") {
			return nil // not transient, just doesn't exist
		}
		return err
	})
	return exists, err
}

// Create starts a detached named session sized width×height, cd'd to
// workingDir, and sends initialCommand followed by Enter (spec §4.1).
func (b *TmuxBus) Create(ctx context.Context, displayName, workingDir string, width, height int, initialCommand string) error {
	exists, err := b.Exists(ctx, displayName)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.Conflict("SESSION_EXISTS", fmt.Sprintf("session %q already exists", displayName))
	}

	err = b.retry(ctx, "create", func() error {
		_, err := b.run(ctx, "new-session", "-d", "-s", displayName,
			"-c", workingDir,
			"-x", strconv.Itoa(width), "-y", strconv.Itoa(height))
		return err
	})
	if err != nil {
		return err
	}

	if initialCommand != "" {
		if err := b.SendText(ctx, displayName, initialCommand); err != nil {
			return err
		}
		return b.SendKeys(ctx, displayName, "Enter")
	}
	return nil
}

// Rename atomically renames a session; it fails if newName collides (spec
// §4.1, §8 invariant "renaming is atomic w.r.t. the Terminal Bus").
func (b *TmuxBus) Rename(ctx context.Context, oldName, newName string) error {
	exists, err := b.Exists(ctx, newName)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.Conflict("DUPLICATE_DISPLAY_NAME", fmt.Sprintf("session %q already exists", newName))
	}
	return b.retry(ctx, "rename", func() error {
		_, err := b.run(ctx, "rename-session", "-t", oldName, newName)
		return err
	})
}

// SendText injects text with no trailing newline.
func (b *TmuxBus) SendText(ctx context.Context, name, text string) error {
	return b.retry(ctx, "send-text", func() error {
		_, err := b.run(ctx, "send-keys", "-t", name, "-l", text)
		return err
	})
}

var namedKeys = map[string]string{
	"Enter":  "Enter",
	"Escape": "Escape",
	"Tab":    "Tab",
	"Up":     "Up",
	"Down":   "Down",
	"Left":   "Left",
	"Right":  "Right",
	"C-c":    "C-c",
	"C-d":    "C-d",
	"C-u":    "C-u",
}

// SendKeys injects one or more named keys (spec §4.1's key-tokens list).
func (b *TmuxBus) SendKeys(ctx context.Context, name string, keys ...string) error {
	args := []string{"send-keys", "-t", name}
	for _, k := range keys {
		tok, ok := namedKeys[k]
		if !ok {
			tok = k
		}
		args = append(args, tok)
	}
	return b.retry(ctx, "send-keys", func() error {
		_, err := b.run(ctx, args...)
		return err
	})
}

// Capture returns the last maxLines of the pane, escape codes intact. ANSI
// stripping is the Capture Engine's job (spec §4.1 "ANSI stripping is
// mandatory on all capture paths"), so this layer returns raw text.
func (b *TmuxBus) Capture(ctx context.Context, name string, maxLines int) (string, error) {
	var out []byte
	err := b.retry(ctx, "capture", func() error {
		var err error
		out, err = b.run(ctx, "capture-pane", "-t", name, "-p", "-e", "-S", fmt.Sprintf("-%d", maxLines))
		return err
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Kill destroys a session.
func (b *TmuxBus) Kill(ctx context.Context, name string) error {
	return b.retry(ctx, "kill", func() error {
		_, err := b.run(ctx, "kill-session", "-t", name)
		return err
	})
}

// List returns all session names that start with prefix (spec §4.1).
func (b *TmuxBus) List(ctx context.Context, prefix string) ([]string, error) {
	var out []byte
	err := b.retry(ctx, "list", func() error {
		var err error
		out, err = b.run(ctx, "list-sessions", "-F", "#{session_name}")
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, prefix) {
			names = append(names, line)
		}
	}
	return names, nil
}
