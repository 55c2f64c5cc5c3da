package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HEARTBEAT_INTERVAL_SECONDS", "RETRY_ATTEMPTS", "RETRY_DELAY_MS", "ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.HeartbeatInterval != 45*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 45s", cfg.HeartbeatInterval)
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.RetryAttempts)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.RetryDelay)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL_SECONDS", "10")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("RETRY_DELAY_MS", "250")
	t.Setenv("ARCHIVE_ENABLED", "false")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
	if cfg.RetryAttempts != 5 || cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("retry = %d/%v", cfg.RetryAttempts, cfg.RetryDelay)
	}
	if cfg.ArchiveEnabled {
		t.Error("ArchiveEnabled should be false")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadInvalidNumberFallsBack(t *testing.T) {
	t.Setenv("RETRY_ATTEMPTS", "many")
	if got := Load().RetryAttempts; got != 3 {
		t.Errorf("RetryAttempts = %d, want fallback 3", got)
	}
}

func TestPaths(t *testing.T) {
	if got := Path.Student("s1", "a/b"); got != "sessions/s1/students/a%2Fb" {
		t.Errorf("Student path = %q", got)
	}
	if got := Path.CodeIndex("ab12cd"); got != "sessionCodes/AB12CD" {
		t.Errorf("CodeIndex = %q", got)
	}
	if got := Path.ResponseField("q 1", "isCorrect"); got != "responses/q%201/isCorrect" {
		t.Errorf("ResponseField = %q", got)
	}
}
