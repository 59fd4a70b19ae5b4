package internal

import "testing"

func TestShouldLog(t *testing.T) {
	defer SetLogLevel(LevelInfo)

	SetLogLevel(LevelWarn)
	if shouldLog(LevelInfo) || shouldLog(LevelDebug) {
		t.Error("info and debug should be filtered at warn")
	}
	if !shouldLog(LevelWarn) || !shouldLog(LevelError) {
		t.Error("warn and error should pass at warn")
	}

	if err := ConfigureLogger("trace"); err != nil {
		t.Fatalf("trace should still be accepted: %v", err)
	}
	if !shouldLog(LevelDebug) {
		t.Error("debug should pass at trace")
	}
}

func TestMakeLoggerArgsSorted(t *testing.T) {
	args := makeLoggerArgs(Fields{FieldPeer: "127.0.0.1:69", FieldBlock: 3, FieldError: "x"})
	want := []string{"block", "error", "peer"}
	if len(args) != len(want) {
		t.Fatalf("expected %d args, got %d", len(want), len(args))
	}
	for i, key := range want {
		if args[i].Key != key {
			t.Errorf("arg %d: expected %s, got %s", i, key, args[i].Key)
		}
	}
	if makeLoggerArgs(nil) != nil {
		t.Error("expected nil args for no fields")
	}
}
