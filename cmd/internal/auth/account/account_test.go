package account

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/storage"
	"gatekeeper/cmd/security/password"
	"gatekeeper/cmd/security/token"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "account.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	users, err := identity.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	hasher := password.DefaultConfig()
	hasher.Params.MemoryKiB = 8 * 1024
	hasher.Params.Iterations = 1
	hasher.Params.Parallelism = 1
	registrar, err := identity.NewRegistrar(users, hasher, clk.Now, time.Second)
	if err != nil {
		t.Fatalf("registrar: %v", err)
	}

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  "access-secret-0123456789abcdef0123456789",
		RefreshSecret: "refresh-secret-0123456789abcdef012345678",
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		Now:           clk.Now,
	})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	sessions, err := session.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	engine, err := session.NewEngine(session.DefaultConfig(), sessions, codec, token.NewDigester("k"), session.Options{Now: clk.Now})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	svc, err := NewService(registrar, engine, codec, nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc, clk
}

func mustRegisterBob(t *testing.T, svc *Service) identity.User {
	t.Helper()
	u, err := svc.Register(context.Background(), identity.RegistrationInput{Username: "bob", Password: "pw1234", Email: "bob@x.com"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return u
}

func TestService_LoginRefreshLogout(t *testing.T) {
	t.Parallel()

	svc, clk := newTestService(t)
	ctx := context.Background()
	bob := mustRegisterBob(t, svc)

	res, err := svc.Login(ctx, identity.LoginInput{Username: "bob", Password: "pw1234"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.ID != bob.ID {
		t.Fatalf("expected bob, got %+v", res.User)
	}

	clk.Advance(time.Minute)
	next, err := svc.Refresh(ctx, res.Tokens.Refresh.Value)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.Refresh.Value == res.Tokens.Refresh.Value {
		t.Fatalf("expected rotated refresh token")
	}

	if _, err := svc.Refresh(ctx, res.Tokens.Refresh.Value); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("old refresh: expected ErrSessionNotFound, got %v", err)
	}

	if err := svc.Logout(ctx, next.Refresh.Value); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.Logout(ctx, next.Refresh.Value); err != nil {
		t.Fatalf("logout again: %v", err)
	}
	if _, err := svc.Refresh(ctx, next.Refresh.Value); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("after logout: expected ErrSessionNotFound, got %v", err)
	}
}

func TestService_Login_InvalidCredential(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	mustRegisterBob(t, svc)

	for _, in := range []identity.LoginInput{
		{Username: "bob", Password: "wrong"},
		{Username: "ghost", Password: "pw1234"},
	} {
		if _, err := svc.Login(context.Background(), in); !identity.IsInvalidCredential(err) {
			t.Fatalf("%+v: expected invalid credential, got %v", in, err)
		}
	}
}

func TestService_LogoutAllAndMe(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	bob := mustRegisterBob(t, svc)

	var logins []LoginResult
	for i := 0; i < 2; i++ {
		res, err := svc.Login(ctx, identity.LoginInput{Username: "bob", Password: "pw1234"})
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		logins = append(logins, res)
	}

	me, err := svc.Me(ctx, logins[0].Tokens.Access.Value)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.ID != bob.ID || me.Username != "bob" {
		t.Fatalf("unexpected me: %+v", me)
	}

	n, err := svc.LogoutAll(ctx, logins[0].Tokens.Access.Value)
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", n)
	}
	for _, l := range logins {
		if _, err := svc.Refresh(ctx, l.Tokens.Refresh.Value); !errors.Is(err, session.ErrSessionNotFound) {
			t.Fatalf("expected revoked, got %v", err)
		}
	}

	if _, err := svc.Me(ctx, "garbage"); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("me with garbage: expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.LogoutAll(ctx, logins[0].Tokens.Refresh.Value); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("logout-all with refresh token: expected ErrInvalidToken, got %v", err)
	}
}

func TestService_AccessTokenExpires(t *testing.T) {
	t.Parallel()

	svc, clk := newTestService(t)
	ctx := context.Background()
	mustRegisterBob(t, svc)

	res, err := svc.Login(ctx, identity.LoginInput{Username: "bob", Password: "pw1234"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	clk.Advance(time.Hour + time.Second)
	if _, err := svc.Me(ctx, res.Tokens.Access.Value); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("expected expired access token, got %v", err)
	}
	// The refresh grant is still good.
	if _, err := svc.Refresh(ctx, res.Tokens.Refresh.Value); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}
