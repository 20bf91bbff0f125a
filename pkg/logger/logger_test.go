package logger

import "testing"

func TestComponentLoggers(t *testing.T) {
	SetLevel(DEBUG)
	defer SetLevel(INFO)

	DebugC("test", "debug line")
	InfoC("test", "info line")
	WarnC("test", "warn line")
	ErrorC("test", "error line")

	fields := map[string]interface{}{"count": 3}
	DebugCF("test", "debug fields", fields)
	InfoCF("test", "info fields", fields)
	WarnCF("test", "warn fields", fields)
	ErrorCF("test", "error fields", fields)
}

func TestSetLevelFiltersBelow(t *testing.T) {
	SetLevel(ERROR)
	defer SetLevel(INFO)

	if got := current().GetLevel(); got.String() != "error" {
		t.Fatalf("expected error level, got %s", got)
	}
}
