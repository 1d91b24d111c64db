// Package logging sets up structured logging for cobd and its
// supporting packages. Logging is used only for diagnostics that do not
// change program behavior — never for control flow — mirroring the
// teacher's own non-fatal warning idiom
// (`fmt.Printf("memex-fs: ... warning: %v\n", err)` in
// internal/dag/repo.go), upgraded to log/slog's structured fields.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// New builds a slog.Logger writing JSON to os.Stderr at the given level,
// tagged with the component name.
func New(component string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("component", component)
}

// Warn logs a non-fatal warning with err attached, matching spec §7's
// "diagnostic only, object still retrievable" recovery class.
func Warn(ctx context.Context, logger *slog.Logger, msg string, err error, args ...any) {
	attrs := append([]any{"error", err}, args...)
	logger.WarnContext(ctx, msg, attrs...)
}
