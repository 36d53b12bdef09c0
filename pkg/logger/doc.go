// Package logger provides a slog.Logger factory with environment presets
// and shared attribute helpers so log keys stay consistent across the
// membership core.
package logger
