package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/clinic_test")
	defer os.Unsetenv("DATABASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if cfg.DBMaxConns != 20 {
		t.Errorf("DBMaxConns = %d, want 20", cfg.DBMaxConns)
	}
	if cfg.RateLimitRPM != 600 {
		t.Errorf("RateLimitRPM = %d, want 600", cfg.RateLimitRPM)
	}
	if !cfg.IsDev() {
		t.Error("default env should be development")
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_RequiresAuthSecretInProduction(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/clinic_test")
	os.Setenv("ENV", "production")
	defer os.Unsetenv("DATABASE_URL")
	defer os.Unsetenv("ENV")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when AUTH_SECRET is missing in production")
	}

	os.Setenv("AUTH_SECRET", "test-secret")
	defer os.Unsetenv("AUTH_SECRET")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.IsDev() {
		t.Error("ENV=production should not be dev")
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/clinic_test")
	os.Setenv("PORT", "9100")
	os.Setenv("RATE_LIMIT_RPM", "120")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("PORT")
		os.Unsetenv("RATE_LIMIT_RPM")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9100" {
		t.Errorf("Port = %q, want 9100", cfg.Port)
	}
	if cfg.RateLimitRPM != 120 {
		t.Errorf("RateLimitRPM = %d, want 120", cfg.RateLimitRPM)
	}
}
