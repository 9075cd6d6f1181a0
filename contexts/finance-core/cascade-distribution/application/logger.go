package application

import "log/slog"

const Module = "finance-core/cascade-distribution"

// ResolveLogger guarantees a non-nil logger for application and worker code.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
