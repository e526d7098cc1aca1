package notify

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
)

// Desktop shows notifications with notify-send on Linux and osascript on macOS.
// Other platforms are silently skipped.
type Desktop struct {
	goos string
	run  func(ctx context.Context, name string, args ...string) error
}

// NewDesktop creates a desktop notifier for the running platform
func NewDesktop() *Desktop {
	return &Desktop{
		goos: runtime.GOOS,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Send shows n on the desktop
func (d *Desktop) Send(ctx context.Context, n Notification) error {
	name, args := d.command(n)
	if name == "" {
		return nil
	}
	return d.run(ctx, name, args...)
}

// command returns the program and arguments that display n
func (d *Desktop) command(n Notification) (string, []string) {
	switch d.goos {
	case "linux":
		return "notify-send", []string{
			"--app-name", "chain-orch",
			"--urgency", urgency(n.Level),
			"--icon", icon(n.Level),
			n.Title, n.Message,
		}
	case "darwin":
		script := `display notification "` + appleScriptEscape(n.Message) +
			`" with title "` + appleScriptEscape(n.Title) + `"`
		if n.ChainName != "" && n.ChainName != n.Title {
			script += ` subtitle "` + appleScriptEscape(n.ChainName) + `"`
		}
		return "osascript", []string{"-e", script}
	default:
		return "", nil
	}
}

func appleScriptEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func urgency(l Level) string {
	switch l {
	case LevelError:
		return "critical"
	case LevelInfo:
		return "low"
	default:
		return "normal"
	}
}

func icon(l Level) string {
	switch l {
	case LevelSuccess:
		return "dialog-positive"
	case LevelWarning:
		return "dialog-warning"
	case LevelError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
