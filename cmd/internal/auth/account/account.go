// Package account orchestrates gatekeeper's credential and session flows:
// register, login, refresh, logout, logout-all and whoami.
package account

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/security/token"
)

// Tokens is a freshly issued access/refresh pair.
type Tokens struct {
	Access  token.Signed
	Refresh token.Signed
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User   identity.User
	Tokens Tokens
}

// Service wires the credential registrar, the token codec and the session engine.
type Service struct {
	users    *identity.Registrar
	sessions *session.Engine
	codec    *token.Codec
	log      *slog.Logger
}

// NewService constructs a Service. log may be nil.
func NewService(users *identity.Registrar, sessions *session.Engine, codec *token.Codec, log *slog.Logger) (*Service, error) {
	if users == nil || sessions == nil || codec == nil {
		return nil, errors.New("account: registrar, session engine and codec are required")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{users: users, sessions: sessions, codec: codec, log: log}, nil
}

// Register validates and stores a new user.
func (s *Service) Register(ctx context.Context, in identity.RegistrationInput) (identity.User, error) {
	u, err := s.users.Register(ctx, in)
	if err != nil {
		return identity.User{}, err
	}
	s.log.Info("auth.register.ok", "user_id", u.ID)
	return u, nil
}

// Login authenticates the user and opens a new session.
func (s *Service) Login(ctx context.Context, in identity.LoginInput) (LoginResult, error) {
	u, err := s.users.Authenticate(ctx, in)
	if err != nil {
		return LoginResult{}, err
	}

	issued, err := s.sessions.Open(ctx, token.Subject{UserID: u.ID, Username: u.Username})
	if err != nil {
		return LoginResult{}, err
	}

	s.log.Info("auth.login.ok", "user_id", u.ID, "session_id", issued.Session.ID)
	return LoginResult{User: u, Tokens: Tokens{Access: issued.Access, Refresh: issued.Refresh}}, nil
}

// Refresh rotates the grant behind refreshToken and returns a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	issued, err := s.sessions.Refresh(ctx, refreshToken, s.subject)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Access: issued.Access, Refresh: issued.Refresh}, nil
}

func (s *Service) subject(ctx context.Context, userID string) (token.Subject, error) {
	u, err := s.users.User(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			// The grant outlived its user; treat like any other dead session.
			return token.Subject{}, session.ErrSessionNotFound
		}
		return token.Subject{}, err
	}
	return token.Subject{UserID: u.ID, Username: u.Username}, nil
}

// Logout revokes the grant behind refreshToken. Unknown tokens succeed.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.RevokeSession(ctx, refreshToken)
}

// LogoutAll revokes every grant of the bearer of accessToken.
func (s *Service) LogoutAll(ctx context.Context, accessToken string) (int64, error) {
	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeAllForUser(ctx, claims.UserID)
	if err != nil {
		return 0, err
	}
	s.log.Info("auth.logout_all.ok", "user_id", claims.UserID, "revoked", n)
	return n, nil
}

// Me returns the user behind accessToken.
func (s *Service) Me(ctx context.Context, accessToken string) (identity.User, error) {
	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		return identity.User{}, err
	}
	u, err := s.users.User(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, token.ErrInvalidToken
		}
		return identity.User{}, err
	}
	return u, nil
}
