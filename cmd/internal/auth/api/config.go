package authapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Config controls auth API transport and cookie behavior.
type Config struct {
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`

	// TrustProxy makes clientIP honor X-Forwarded-For / X-Real-IP.
	TrustProxy bool `yaml:"trust_proxy" env:"TRUST_PROXY"`

	AccessCookieName  string `yaml:"access_cookie_name" env:"ACCESS_COOKIE_NAME"`
	RefreshCookieName string `yaml:"refresh_cookie_name" env:"REFRESH_COOKIE_NAME"`
	CookieDomain      string `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
	CookiePath        string `yaml:"cookie_path" env:"COOKIE_PATH"`
	CookieSameSite    string `yaml:"cookie_same_site" env:"COOKIE_SAME_SITE"`

	// CookieSecure is forced on in production by the app layer.
	CookieSecure bool `yaml:"cookie_secure" env:"COOKIE_SECURE"`

	// Cookie lifetimes; the app aligns them with the token TTLs.
	AccessCookieMaxAge  time.Duration `yaml:"-" env:"-"`
	RefreshCookieMaxAge time.Duration `yaml:"-" env:"-"`
}

// DefaultConfig returns cookie names and lifetimes matching the public API.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:        1 << 20, // 1 MiB
		AccessCookieName:    "accessToken",
		RefreshCookieName:   "refreshToken",
		CookiePath:          "/",
		CookieSameSite:      "none",
		AccessCookieMaxAge:  time.Hour,
		RefreshCookieMaxAge: 7 * 24 * time.Hour,
	}
}

// Validate checks the config and fills zero values from DefaultConfig.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if strings.TrimSpace(c.AccessCookieName) == "" {
		c.AccessCookieName = def.AccessCookieName
	}
	if strings.TrimSpace(c.RefreshCookieName) == "" {
		c.RefreshCookieName = def.RefreshCookieName
	}
	if c.AccessCookieName == c.RefreshCookieName {
		return fmt.Errorf("auth api: access and refresh cookie names must differ")
	}
	if strings.TrimSpace(c.CookiePath) == "" {
		c.CookiePath = def.CookiePath
	}
	if c.AccessCookieMaxAge <= 0 {
		c.AccessCookieMaxAge = def.AccessCookieMaxAge
	}
	if c.RefreshCookieMaxAge <= 0 {
		c.RefreshCookieMaxAge = def.RefreshCookieMaxAge
	}
	if _, err := ParseSameSite(c.CookieSameSite); err != nil {
		return err
	}
	return nil
}

// ParseSameSite maps "none", "lax", "strict" or "default" onto http.SameSite.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return http.SameSiteNoneMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "default":
		return http.SameSiteDefaultMode, nil
	default:
		return 0, fmt.Errorf("auth api: unknown cookie same_site %q", s)
	}
}
