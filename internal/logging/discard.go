package logging

// DiscardLogger discards every message. A nil Options.Logger does not
// become a DiscardLogger; OrDefault replaces it with a Warn-level
// DefaultLogger.
type DiscardLogger struct{}

// Discard is the singleton DiscardLogger.
var Discard Logger = &DiscardLogger{}

func (l *DiscardLogger) Errorf(format string, args ...any) {}
func (l *DiscardLogger) Warnf(format string, args ...any)  {}
func (l *DiscardLogger) Infof(format string, args ...any)  {}
func (l *DiscardLogger) Debugf(format string, args ...any) {}

// Fatalf is a no-op on DiscardLogger. A tree configured with Discard never
// observes fatal conditions through logging; it still transitions to a
// poisoned state, since Tree.fatal sets the flag itself before logging.
func (l *DiscardLogger) Fatalf(format string, args ...any) {}
