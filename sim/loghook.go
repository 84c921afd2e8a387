package sim

import "log/slog"

// A LogHook is a hook that is responsible for recording information from the
// components it is attached to.
type LogHook interface {
	Hook
}

// LogHookBase provides the common logic for all LogHooks.
type LogHookBase struct {
	*slog.Logger
}

// NewLogHookBase creates a LogHookBase. The default logger is used when
// logger is nil.
func NewLogHookBase(logger *slog.Logger) LogHookBase {
	if logger == nil {
		logger = slog.Default()
	}

	return LogHookBase{Logger: logger}
}
