package logger

import "testing"

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Level != "info" {
		t.Errorf("expected level info, got %s", cfg.Level)
	}
	if cfg.Format != "console" {
		t.Errorf("expected format console, got %s", cfg.Format)
	}
	if cfg.Output != "stdout" {
		t.Errorf("expected output stdout, got %s", cfg.Output)
	}
}

func TestConfig_ValidateRejectsBadLevel(t *testing.T) {
	cfg := Config{Level: "loud", Format: "json", Output: "stdout"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestConfig_ValidateAcceptsDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid defaults, got %v", err)
	}
}

func TestFields_PairsKeysAndValues(t *testing.T) {
	m := Fields("attempt", 2, "outcome", "success")

	if m["attempt"] != 2 {
		t.Errorf("expected attempt=2, got %v", m["attempt"])
	}
	if m["outcome"] != "success" {
		t.Errorf("expected outcome=success, got %v", m["outcome"])
	}
}

func TestFields_IgnoresDanglingKey(t *testing.T) {
	m := Fields("a", 1, "dangling")
	if len(m) != 1 {
		t.Errorf("expected 1 entry, got %d", len(m))
	}
}

func TestNop_DoesNotPanic(t *testing.T) {
	l := Nop().WithComponent("executor").WithError(nil)
	l.Debug("debug")
	l.Info("info", Fields("k", "v"))
	l.Warn("warn")
	l.Error("error")
}
