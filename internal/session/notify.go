package session

import "context"

// Level is the severity of a user-facing notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier shows messages to the student.
type Notifier interface {
	Notify(level Level, msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, msg string)

func (f NotifierFunc) Notify(level Level, msg string) { f(level, msg) }

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(Level, string) {}

// AutoConfirm accepts every confirmation. Used when no front-end asks.
type AutoConfirm struct{}

func (AutoConfirm) ConfirmIncomplete(context.Context, int) bool { return true }
func (AutoConfirm) ConfirmSubmit(context.Context) bool          { return true }
