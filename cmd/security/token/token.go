package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"

	minSecretBytes = 32
)

// Config controls signing secrets and lifetimes.
type Config struct {
	Issuer        string
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	// Now overrides the clock (tests). Nil means time.Now.
	Now func() time.Time
}

// Subject is the identity embedded in access tokens.
type Subject struct {
	UserID   string
	Username string
}

// Signed is a freshly minted token with its expiry.
type Signed struct {
	Value     string
	ExpiresAt time.Time
}

// AccessClaims are the verified contents of an access token.
type AccessClaims struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// RefreshClaims are the verified contents of a refresh token.
type RefreshClaims struct {
	UserID    string
	ExpiresAt time.Time
}

type claims struct {
	UserID   string `json:"uid"`
	Username string `json:"usr,omitempty"`
	Kind     string `json:"typ"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access and refresh tokens.
type Codec struct {
	cfg     Config
	access  []byte
	refresh []byte
	parser  *jwt.Parser
}

// NewCodec validates cfg and builds a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) < minSecretBytes {
		return nil, fmt.Errorf("%w: access secret must be at least %d bytes", ErrConfig, minSecretBytes)
	}
	if len(cfg.RefreshSecret) < minSecretBytes {
		return nil, fmt.Errorf("%w: refresh secret must be at least %d bytes", ErrConfig, minSecretBytes)
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("%w: token lifetimes must be positive", ErrConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Codec{
		cfg:     cfg,
		access:  []byte(cfg.AccessSecret),
		refresh: []byte(cfg.RefreshSecret),
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return c.cfg.Now() }),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	c.parser = jwt.NewParser(opts...)
	return c, nil
}

// SignAccess issues an access token for sub.
func (c *Codec) SignAccess(sub Subject) (Signed, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return Signed{}, fmt.Errorf("sign access: empty user id")
	}
	return c.sign(claims{UserID: sub.UserID, Username: sub.Username, Kind: kindAccess}, c.access, c.cfg.AccessTTL)
}

// SignRefresh issues a refresh token for userID.
func (c *Codec) SignRefresh(userID string) (Signed, error) {
	if strings.TrimSpace(userID) == "" {
		return Signed{}, fmt.Errorf("sign refresh: empty user id")
	}
	return c.sign(claims{UserID: userID, Kind: kindRefresh}, c.refresh, c.cfg.RefreshTTL)
}

// VerifyAccess checks signature, expiry and kind of an access token.
func (c *Codec) VerifyAccess(raw string) (AccessClaims, error) {
	cl, err := c.verify(raw, c.access, kindAccess)
	if err != nil {
		return AccessClaims{}, err
	}
	return AccessClaims{UserID: cl.UserID, Username: cl.Username, ExpiresAt: cl.ExpiresAt.Time}, nil
}

// VerifyRefresh checks signature, expiry and kind of a refresh token.
func (c *Codec) VerifyRefresh(raw string) (RefreshClaims, error) {
	cl, err := c.verify(raw, c.refresh, kindRefresh)
	if err != nil {
		return RefreshClaims{}, err
	}
	return RefreshClaims{UserID: cl.UserID, ExpiresAt: cl.ExpiresAt.Time}, nil
}

// RefreshTTL reports the configured refresh lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

// AccessTTL reports the configured access lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.cfg.AccessTTL }

func (c *Codec) sign(cl claims, key []byte, ttl time.Duration) (Signed, error) {
	// JWT NumericDate has second precision; truncate so ExpiresAt matches the token.
	now := c.cfg.Now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)

	cl.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.cfg.Issuer,
		Subject:   cl.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(key)
	if err != nil {
		return Signed{}, fmt.Errorf("sign %s token: %w", cl.Kind, err)
	}
	return Signed{Value: s, ExpiresAt: exp}, nil
}

func (c *Codec) verify(raw string, key []byte, kind string) (claims, error) {
	raw = strings.TrimSpace(raw)
	// Basic sanity bounds to avoid pathological inputs.
	if raw == "" || len(raw) > 4096 {
		return claims{}, ErrInvalidToken
	}

	var cl claims
	tok, err := c.parser.ParseWithClaims(raw, &cl, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !tok.Valid {
		return claims{}, errors.Join(ErrInvalidToken, err)
	}
	if cl.Kind != kind || strings.TrimSpace(cl.UserID) == "" {
		return claims{}, ErrInvalidToken
	}
	return cl, nil
}

// Digester derives the server-side lookup value for refresh tokens.
type Digester struct {
	key []byte
}

// NewDigester returns a Digester. An empty key selects plain SHA-256.
func NewDigester(key string) Digester {
	key = strings.TrimSpace(key)
	if key == "" {
		return Digester{}
	}
	return Digester{key: []byte(key)}
}

// Keyed reports whether HMAC mode is active.
func (d Digester) Keyed() bool { return len(d.key) > 0 }

// Digest returns the 64-char hex digest of tok.
func (d Digester) Digest(tok string) string {
	if len(d.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, d.key)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}
