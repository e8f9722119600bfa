package pipeline

import (
	"context"
	"log/slog"
)

// Notification severities passed to the sink.
const (
	SeveritySuccess = "SUCCESS"
	SeverityError   = "ERROR"
)

// Notifier is the notification sink called at the end of a run. The engine
// treats it as an external collaborator and never fails a run over it.
type Notifier interface {
	Notify(ctx context.Context, user, title, message, severity string)
}

// SettingsProvider supplies the per-user output directory. The second
// return value is false when the user has no configured directory, in which
// case the engine falls back to the configured default.
type SettingsProvider interface {
	OutputDir(user string) (string, bool)
}

// LogNotifier is the default Notifier; it writes notifications to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notification.
func (n *LogNotifier) Notify(ctx context.Context, user, title, message, severity string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if severity == SeverityError {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "run notification",
		slog.String("user", user),
		slog.String("title", title),
		slog.String("message", message),
		slog.String("severity", severity))
}

// StaticSettings is a SettingsProvider backed by a fixed map. Deployments
// with a user database implement SettingsProvider against it instead.
type StaticSettings struct {
	Dirs map[string]string
}

// OutputDir returns the user's configured output directory.
func (s *StaticSettings) OutputDir(user string) (string, bool) {
	dir, ok := s.Dirs[user]
	return dir, ok
}
