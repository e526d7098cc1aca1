// Package notify delivers notification node messages to the desktop, Slack
// or the log.
package notify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Level is the severity of a notification
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

// ParseLevel maps a level name from node config to a Level.
// Unknown names are treated as info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "success":
		return LevelSuccess
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification is one message produced by a notification node
type Notification struct {
	Title     string
	Message   string
	Level     Level
	ChainName string
	RunID     string
}

// Notifier delivers notifications
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Options selects the configured channels
type Options struct {
	Desktop      bool
	SlackWebhook string
}

// New returns a notifier for the configured channels. Every notification is
// also written to log.
func New(opts Options, log *zap.SugaredLogger) Notifier {
	notifiers := []Notifier{NewLog(log)}
	if opts.Desktop {
		notifiers = append(notifiers, NewDesktop())
	}
	if opts.SlackWebhook != "" {
		notifiers = append(notifiers, NewSlack(opts.SlackWebhook))
	}
	return NewMulti(notifiers...)
}

// Multi sends to several notifiers
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a notifier that sends to all provided notifiers
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Send delivers to every notifier, joining their errors
func (m *Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to a zap logger
type Log struct {
	log *zap.SugaredLogger
}

// NewLog creates a log notifier. A nil logger discards everything.
func NewLog(log *zap.SugaredLogger) *Log {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Log{log: log}
}

// Send logs n at a level matching its severity
func (l *Log) Send(ctx context.Context, n Notification) error {
	kv := []interface{}{"title", n.Title, "level", n.Level.String(), "chain", n.ChainName, "run_id", n.RunID}
	switch n.Level {
	case LevelError:
		l.log.Errorw(n.Message, kv...)
	case LevelWarning:
		l.log.Warnw(n.Message, kv...)
	default:
		l.log.Infow(n.Message, kv...)
	}
	return nil
}
