package logger

import "testing"

func TestNewLoggerRejectsAnInvalidLevel(t *testing.T) {
	if _, err := NewLogger(LoggingConfig{Level: "not-a-level"}); err == nil {
		t.Fatal("expected an error for an invalid log level")
	}
}

func TestNewLoggerAcceptsKnownLevelsAndFormats(t *testing.T) {
	for _, cfg := range []LoggingConfig{
		{Level: "debug", Format: "json"},
		{Level: "warn", Format: "console"},
		{Level: "", Format: ""},
	} {
		if _, err := NewLogger(cfg); err != nil {
			t.Errorf("NewLogger(%+v) failed: %v", cfg, err)
		}
	}
}

func TestDefaultFallsBackWhenNeverSet(t *testing.T) {
	if got := Default(); got == nil {
		t.Fatal("expected a non-nil default logger")
	}
}

func TestSetDefaultInstallsTheGivenLogger(t *testing.T) {
	l, err := NewLogger(LoggingConfig{Level: "error"})
	if err != nil {
		t.Fatal(err)
	}
	SetDefault(l)
	if Default() != l {
		t.Fatal("expected Default to return the installed logger")
	}
}
