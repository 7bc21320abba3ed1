package authapi

import (
	"net/http"
	"testing"
	"time"
)

func TestConfigValidate_FillsDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.AccessCookieName != "accessToken" || cfg.RefreshCookieName != "refreshToken" {
		t.Fatalf("unexpected cookie names: %q %q", cfg.AccessCookieName, cfg.RefreshCookieName)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("unexpected max body bytes: %d", cfg.MaxBodyBytes)
	}
	if cfg.AccessCookieMaxAge != time.Hour || cfg.RefreshCookieMaxAge != 7*24*time.Hour {
		t.Fatalf("unexpected cookie lifetimes: %v %v", cfg.AccessCookieMaxAge, cfg.RefreshCookieMaxAge)
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"same cookie names", Config{AccessCookieName: "t", RefreshCookieName: "t"}},
		{"bad same site", Config{CookieSameSite: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseSameSite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want http.SameSite
	}{
		{"", http.SameSiteNoneMode},
		{"None", http.SameSiteNoneMode},
		{"lax", http.SameSiteLaxMode},
		{" STRICT ", http.SameSiteStrictMode},
		{"default", http.SameSiteDefaultMode},
	}
	for _, tt := range tests {
		got, err := ParseSameSite(tt.in)
		if err != nil {
			t.Fatalf("ParseSameSite(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseSameSite(%q)=%v, want %v", tt.in, got, tt.want)
		}
	}
}
