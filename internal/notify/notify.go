// Package notify delivers fire-and-forget user notifications for recording
// lifecycle events. Failures are logged, never surfaced to callers.
package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/airband/radiorec/internal/env"
)

const defaultTimeout = 10 * time.Second

// Notifier delivers a short user-facing message.
// Implementations must be safe for concurrent use and must not block the
// caller beyond a small bounded timeout.
type Notifier interface {
	Notify(title, message string)
}

// LogNotifier writes notifications to the default slog logger.
type LogNotifier struct {
	AppName string
}

func (n LogNotifier) Notify(title, message string) {
	slog.Info("notification", "app", n.AppName, "title", title, "message", message)
}

// ExecNotifier shells out to a desktop notification command such as
// notify-send. The title and message are passed as the last two arguments
// and additionally as RADIOREC_TITLE / RADIOREC_MESSAGE in the command's
// environment, so hook scripts can ignore argv entirely.
type ExecNotifier struct {
	Command string
	Args    []string
}

func (n ExecNotifier) Notify(title, message string) {
	if n.Command == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()
		args := append(append([]string(nil), n.Args...), title, message)
		// #nosec G204 -- command comes from local configuration
		cmd := exec.CommandContext(ctx, n.Command, args...)
		hookEnv := env.New()
		hookEnv.Set("RADIOREC_TITLE", title)
		hookEnv.Set("RADIOREC_MESSAGE", message)
		cmd.Env = hookEnv.Merge(nil)
		if err := cmd.Run(); err != nil {
			slog.Warn("notification command failed", "command", n.Command, "error", err)
		}
	}()
}

// Nop discards notifications. Useful in tests.
type Nop struct{}

func (Nop) Notify(string, string) {}
