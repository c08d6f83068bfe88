package config

import "testing"

func setRequired(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("AUDIX_LIVE_TOKEN", "test-token")
	t.Setenv("DATABASE_URL", "file::memory:?cache=shared")
	t.Setenv("AUDIX_DB_BACKEND", "sqlite")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5005 {
		t.Errorf("default port = %d, want 5005", cfg.Port)
	}
	if cfg.Bind != "0.0.0.0" {
		t.Errorf("default bind = %q", cfg.Bind)
	}
	if cfg.Environment != "development" {
		t.Errorf("default environment = %q", cfg.Environment)
	}
	if cfg.Production() {
		t.Error("development config reports production")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("SESSION_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing SESSION_SECRET")
	}
}

func TestLoadRequiresLiveToken(t *testing.T) {
	setRequired(t)
	t.Setenv("AUDIX_LIVE_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing AUDIX_LIVE_TOKEN")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

func TestLoadRejectsBadBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("AUDIX_DB_BACKEND", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestPortFallback(t *testing.T) {
	setRequired(t)
	t.Setenv("AUDIX_PORT", "")
	t.Setenv("PORT", "8123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8123 {
		t.Errorf("port = %d, want PORT fallback 8123", cfg.Port)
	}
}

func TestEnvAliasNodeEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("NODE_ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Production() {
		t.Error("NODE_ENV=production not honored")
	}
}
