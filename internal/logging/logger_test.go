package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	tests := []struct {
		level     Level
		wantError bool
		wantWarn  bool
		wantInfo  bool
		wantDebug bool
	}{
		{LevelError, true, false, false, false},
		{LevelWarn, true, true, false, false},
		{LevelInfo, true, true, true, false},
		{LevelDebug, true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level)

			logger.Errorf("error message")
			logger.Warnf("warn message")
			logger.Infof("info message")
			logger.Debugf("debug message")

			output := buf.String()

			if got := strings.Contains(output, "ERROR "); got != tt.wantError {
				t.Errorf("Error logged: got %v, want %v", got, tt.wantError)
			}
			if got := strings.Contains(output, "WARN "); got != tt.wantWarn {
				t.Errorf("Warn logged: got %v, want %v", got, tt.wantWarn)
			}
			if got := strings.Contains(output, "INFO "); got != tt.wantInfo {
				t.Errorf("Info logged: got %v, want %v", got, tt.wantInfo)
			}
			if got := strings.Contains(output, "DEBUG "); got != tt.wantDebug {
				t.Errorf("Debug logged: got %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestDefaultLoggerFormatted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelDebug)

	logger.Errorf("error %d", 1)
	logger.Warnf("warn %d", 2)
	logger.Infof("info %d", 3)
	logger.Debugf("debug %d", 4)

	output := buf.String()
	for _, want := range []string{"error 1", "warn 2", "info 3", "debug 4"} {
		if !strings.Contains(output, want) {
			t.Errorf("formatted message %q not found in %q", want, output)
		}
	}
}

func TestFatalfAlwaysLogsRegardlessOfLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelError)
	logger.Fatalf("disk full at %s", "/data")

	if !strings.Contains(buf.String(), "FATAL disk full at /data") {
		t.Fatalf("expected FATAL message, got %q", buf.String())
	}
}

func TestFatalfInvokesHandlerExactlyOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelInfo)

	var mu sync.Mutex
	var calls []string
	logger.SetFatalHandler(func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, msg)
	})

	logger.Fatalf("unrecoverable: %s", "checksum mismatch")

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 || calls[0] != "unrecoverable: checksum mismatch" {
		t.Fatalf("got calls=%v", calls)
	}
}

func TestFatalfWithoutHandlerDoesNotPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelInfo)
	logger.Fatalf("no handler installed")
}

func TestDiscardLoggerNeverPanics(t *testing.T) {
	Discard.Errorf("x")
	Discard.Warnf("x")
	Discard.Infof("x")
	Discard.Debugf("x")
	Discard.Fatalf("x")
}

func TestIsNilDetectsTypedNil(t *testing.T) {
	var l *DefaultLogger
	if !IsNil(Logger(l)) {
		t.Fatal("expected a typed-nil *DefaultLogger wrapped in Logger to be detected as nil")
	}
	if IsNil(Discard) {
		t.Fatal("Discard is not nil")
	}
	if !IsNil(nil) {
		t.Fatal("untyped nil must be detected")
	}
}

func TestOrDefaultReturnsWarnLoggerForNil(t *testing.T) {
	l := OrDefault(nil)
	if IsNil(l) {
		t.Fatal("OrDefault must never return a nil logger")
	}
	var typedNil *DefaultLogger
	l = OrDefault(typedNil)
	if IsNil(l) {
		t.Fatal("OrDefault must replace a typed-nil logger too")
	}
}
