package session

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gatekeeper/cmd/internal/storage"
	"gatekeeper/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	testAccessSecret  = "access-secret-0123456789abcdef0123456789"
	testRefreshSecret = "refresh-secret-0123456789abcdef012345678"
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

type harness struct {
	engine  *Engine
	store   *SQLiteStore
	db      *sql.DB
	clock   *fakeClock
	codec   *token.Codec
	metrics *Metrics
}

func newHarness(t *testing.T, mut func(*Config)) *harness {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := token.NewCodec(token.Config{
		Issuer:        "gatekeeper-test",
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		Now:           clk.Now,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	metrics, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	cfg := DefaultConfig()
	if mut != nil {
		mut(&cfg)
	}
	eng, err := NewEngine(cfg, store, codec, token.NewDigester("digest-key"), Options{Now: clk.Now, Metrics: metrics})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	return &harness{engine: eng, store: store, db: db, clock: clk, codec: codec, metrics: metrics}
}

// seedUser inserts a users row so sessions satisfy the foreign key.
func (h *harness) seedUser(t *testing.T, id, username string) {
	t.Helper()
	_, err := h.db.ExecContext(context.Background(),
		`INSERT INTO users (id, username, email, password, created_at) VALUES (?, ?, ?, 'x', 0)`,
		id, username, username+"@x.com")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (h *harness) refreshToken(t *testing.T, userID string) string {
	t.Helper()
	s, err := h.codec.SignRefresh(userID)
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}
	return s.Value
}

func TestEngine_CreateSession_ThenValidate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedUser(t, "u1", "bob")
	ctx := context.Background()

	tok := h.refreshToken(t, "u1")
	row, err := h.engine.CreateSession(ctx, "u1", tok)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if row.ID == "" || row.UserID != "u1" || row.Revoked {
		t.Fatalf("unexpected row: %+v", row)
	}
	if want := h.clock.Now().Add(7 * 24 * time.Hour); !row.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, row.ExpiresAt)
	}
	if row.TokenHash == tok {
		t.Fatalf("refresh token must not be stored in plaintext")
	}

	got, err := h.engine.ValidateAndConsume(ctx, tok)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}
	if got.ID != row.ID {
		t.Fatalf("expected session %s, got %s", row.ID, got.ID)
	}
}

func TestEngine_ValidateAndConsume_UnknownToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	for _, tok := range []string{"", "   ", "never-issued"} {
		if _, err := h.engine.ValidateAndConsume(context.Background(), tok); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("token %q: expected ErrSessionNotFound, got %v", tok, err)
		}
	}
}

func TestEngine_RotateToken_OldTokenIsSingleUse(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.ReuseDetection = false })
	h.seedUser(t, "u1", "bob")
	ctx := context.Background()

	old := h.refreshToken(t, "u1")
	created, err := h.engine.CreateSession(ctx, "u1", old)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	h.clock.Advance(time.Minute)
	sess, err := h.engine.ValidateAndConsume(ctx, old)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}

	next := h.refreshToken(t, "u1")
	rotated, err := h.engine.RotateToken(ctx, sess, next)
	if err != nil {
		t.Fatalf("RotateToken: %v", err)
	}
	if rotated.ID != created.ID {
		t.Fatalf("rotation must keep the grant identity: %s != %s", rotated.ID, created.ID)
	}
	if rotated.Rotations != 1 || rotated.RotatedAt == nil {
		t.Fatalf("expected one recorded rotation, got %+v", rotated)
	}
	if !rotated.CreatedAt.Equal(h.clock.Now()) || !rotated.ExpiresAt.Equal(h.clock.Now().Add(7*24*time.Hour)) {
		t.Fatalf("rotation must reset the window: %+v", rotated)
	}

	if _, err := h.engine.ValidateAndConsume(ctx, old); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old token: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := h.engine.ValidateAndConsume(ctx, next); err != nil {
		t.Fatalf("new token: %v", err)
	}

	// A second rotation from the stale snapshot loses.
	if _, err := h.engine.RotateToken(ctx, sess, h.refreshToken(t, "u1")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("stale rotate: expected ErrSessionNotFound, got %v", err)
	}
}

func TestEngine_ConcurrentRotation_ExactlyOneWins(t *testing.T) {
	t.Parallel()

	for _, reuse := range []bool{false, true} {
		reuse := reuse
		name := "reuse_detection_off"
		if reuse {
			name = "reuse_detection_on"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, func(c *Config) { c.ReuseDetection = reuse })
			h.seedUser(t, "u1", "bob")
			ctx := context.Background()

			tok := h.refreshToken(t, "u1")
			if _, err := h.engine.CreateSession(ctx, "u1", tok); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			const n = 16
			next := make([]string, n)
			for i := range next {
				next[i] = h.refreshToken(t, "u1")
			}

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				wins     int
				notFound int
				winner   string
				start    = make(chan struct{})
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start

					sess, err := h.engine.ValidateAndConsume(ctx, tok)
					if err == nil {
						_, err = h.engine.RotateToken(ctx, sess, next[i])
					}

					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
						winner = next[i]
					case errors.Is(err, ErrSessionNotFound):
						notFound++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			if wins != 1 || notFound != n-1 {
				t.Fatalf("expected exactly one winner, got wins=%d notFound=%d", wins, notFound)
			}

			// Losers that looked up after the winner committed must not
			// revoke the grant the winner just received.
			if _, err := h.engine.ValidateAndConsume(ctx, winner); err != nil {
				t.Fatalf("winner's token must stay valid: %v", err)
			}
			if got := testutil.ToFloat64(h.metrics.reuse); got != 0 {
				t.Fatalf("expected no reuse detections inside the grace window, got %v", got)
			}
		})
	}
}

func TestEngine_RevokeSession_Idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedUser(t, "u1", "bob")
	ctx := context.Background()

	tok := h.refreshToken(t, "u1")
	row, err := h.engine.CreateSession(ctx, "u1", tok)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := h.engine.RevokeSession(ctx, tok); err != nil {
			t.Fatalf("RevokeSession #%d: %v", i+1, err)
		}
	}
	if err := h.engine.RevokeSession(ctx, "never-issued"); err != nil {
		t.Fatalf("RevokeSession unknown: %v", err)
	}
	if err := h.engine.RevokeSession(ctx, ""); err != nil {
		t.Fatalf("RevokeSession empty: %v", err)
	}
	if got := testutil.ToFloat64(h.metrics.revoked); got != 1 {
		t.Fatalf("expected one counted revocation, got %v", got)
	}

	if _, err := h.engine.ValidateAndConsume(ctx, tok); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("revoked token: expected ErrSessionNotFound, got %v", err)
	}

	got, err := h.engine.Session(ctx, row.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !got.Revoked || got.RevokedAt == nil {
		t.Fatalf("expected revoked row to be retained, got %+v", got)
	}
}

func TestEngine_RevokeSession_EvenWhenExpired(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedUser(t, "u1", "bob")
	ctx := context.Background()

	tok := h.refreshToken(t, "u1")
	row, err := h.engine.CreateSession(ctx, "u1", tok)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	h.clock.Advance(8 * 24 * time.Hour)
	if err := h.engine.RevokeSession(ctx, tok); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	got, err := h.engine.Session(ctx, row.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !got.Revoked {
		t.Fatalf("expected expired row to be revoked too")
	}
}

func TestEngine_RevokedSessionCannotRotate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedUser(t, "u1", "bob")
	ctx := context.Background()

	tok := h.refreshToken(t, "u1")
	if _, err := h.engine.CreateSession(ctx, "u1", tok); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess, err := h.engine.ValidateAndConsume(ctx, tok)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}

	// Logout lands between lookup and rotation.
	if err := h.engine.RevokeSession(ctx, tok); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := h.engine.RotateToken(ctx, sess, h.refreshToken(t, "u1")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEngine_Expiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedUser(t, "u1", "bob")
	ctx := context.Background()

	tok := h.refreshToken(t, "u1")
	if _, err := h.engine.CreateSession(ctx, "u1", tok); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	h.clock.Advance(7*24*time.Hour - time.Second)
	sess, err := h.engine.ValidateAndConsume(ctx, tok)
	if err != nil {
		t.Fatalf("just before expiry: %v", err)
	}

	h.clock.Advance(time.Second)
	if _, err := h.engine.ValidateAndConsume(ctx, tok); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("at expiry: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := h.engine.RotateToken(ctx, sess, h.refreshToken(t, "u1")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("rotate at expiry: expected ErrSessionNotFound, got %v", err)
	}
}

func TestEngine_RevokeAllForUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedUser(t, "u1", "bob")
	h.seedUser(t, "u2", "alice")
	ctx := context.Background()

	var bobTokens []string
	for i := 0; i < 3; i++ {
		tok := h.refreshToken(t, "u1")
		if _, err := h.engine.CreateSession(ctx, "u1", tok); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		bobTokens = append(bobTokens, tok)
	}
	alice := h.refreshToken(t, "u2")
	if _, err := h.engine.CreateSession(ctx, "u2", alice); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	n, err := h.engine.RevokeAllForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
	for _, tok := range bobTokens {
		if _, err := h.engine.ValidateAndConsume(ctx, tok); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected bob's sessions revoked, got %v", err)
		}
	}
	if _, err := h.engine.ValidateAndConsume(ctx, alice); err != nil {
		t.Fatalf("alice's session must survive: %v", err)
	}

	n, err = h.engine.RevokeAllForUser(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("second RevokeAllForUser: n=%d err=%v", n, err)
	}
}

func TestEngine_ReuseDetection_RevokesAllSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedUser(t, "u1", "bob")
	ctx := context.Background()

	old := h.refreshToken(t, "u1")
	if _, err := h.engine.CreateSession(ctx, "u1", old); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	other := h.refreshToken(t, "u1")
	if _, err := h.engine.CreateSession(ctx, "u1", other); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess, err := h.engine.ValidateAndConsume(ctx, old)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}
	next := h.refreshToken(t, "u1")
	if _, err := h.engine.RotateToken(ctx, sess, next); err != nil {
		t.Fatalf("RotateToken: %v", err)
	}

	h.clock.Advance(DefaultConfig().ReuseGrace + time.Second)
	_, err = h.engine.ValidateAndConsume(ctx, old)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	var re ReuseError
	if !errors.As(err, &re) {
		t.Fatalf("expected ReuseError, got %v", err)
	}
	if re.UserID != "u1" || re.Revoked != 2 {
		t.Fatalf("unexpected reuse error: %+v", re)
	}

	for _, tok := range []string{next, other} {
		if _, err := h.engine.ValidateAndConsume(ctx, tok); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected all sessions revoked after reuse, got %v", err)
		}
	}
	if got := testutil.ToFloat64(h.metrics.reuse); got != 1 {
		t.Fatalf("expected reuse counter 1, got %v", got)
	}
}

func TestEngine_ReuseDetection_GraceWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.ReuseGrace = 5 * time.Second })
	h.seedUser(t, "u1", "bob")
	ctx := context.Background()

	old := h.refreshToken(t, "u1")
	if _, err := h.engine.CreateSession(ctx, "u1", old); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess, err := h.engine.ValidateAndConsume(ctx, old)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}
	next := h.refreshToken(t, "u1")
	if _, err := h.engine.RotateToken(ctx, sess, next); err != nil {
		t.Fatalf("RotateToken: %v", err)
	}

	h.clock.Advance(4 * time.Second)
	_, err = h.engine.ValidateAndConsume(ctx, old)
	if !errors.Is(err, ErrSessionNotFound) || IsReuse(err) {
		t.Fatalf("inside grace: expected plain ErrSessionNotFound, got %v", err)
	}
	if _, err := h.engine.ValidateAndConsume(ctx, next); err != nil {
		t.Fatalf("inside grace: current token must stay valid: %v", err)
	}

	h.clock.Advance(time.Second)
	if _, err := h.engine.ValidateAndConsume(ctx, old); !IsReuse(err) {
		t.Fatalf("after grace: expected ReuseError, got %v", err)
	}
	if _, err := h.engine.ValidateAndConsume(ctx, next); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("after grace: expected session revoked, got %v", err)
	}
}

func TestEngine_ReuseDetection_Disabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.ReuseDetection = false })
	h.seedUser(t, "u1", "bob")
	ctx := context.Background()

	old := h.refreshToken(t, "u1")
	if _, err := h.engine.CreateSession(ctx, "u1", old); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess, err := h.engine.ValidateAndConsume(ctx, old)
	if err != nil {
		t.Fatalf("ValidateAndConsume: %v", err)
	}
	next := h.refreshToken(t, "u1")
	if _, err := h.engine.RotateToken(ctx, sess, next); err != nil {
		t.Fatalf("RotateToken: %v", err)
	}

	_, err = h.engine.ValidateAndConsume(ctx, old)
	if !errors.Is(err, ErrSessionNotFound) || IsReuse(err) {
		t.Fatalf("expected plain ErrSessionNotFound, got %v", err)
	}
	if _, err := h.engine.ValidateAndConsume(ctx, next); err != nil {
		t.Fatalf("current token must stay valid: %v", err)
	}
}

func TestEngine_OpenAndRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedUser(t, "u1", "bob")
	ctx := context.Background()

	opened, err := h.engine.Open(ctx, token.Subject{UserID: "u1", Username: "bob"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	lookup := func(ctx context.Context, userID string) (token.Subject, error) {
		return token.Subject{UserID: userID, Username: "bob"}, nil
	}

	h.clock.Advance(30 * time.Minute)
	refreshed, err := h.engine.Refresh(ctx, opened.Refresh.Value, lookup)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.Refresh.Value == opened.Refresh.Value {
		t.Fatalf("expected a new refresh token")
	}
	if refreshed.Session.ID != opened.Session.ID {
		t.Fatalf("refresh must rotate the same grant")
	}
	claims, err := h.codec.VerifyAccess(refreshed.Access.Value)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "bob" {
		t.Fatalf("unexpected access claims: %+v", claims)
	}

	if _, err := h.engine.Refresh(ctx, opened.Refresh.Value, lookup); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old token: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, opened.Access.Value, lookup); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("access token as refresh: expected ErrInvalidToken, got %v", err)
	}
	if got := testutil.ToFloat64(h.metrics.refreshFailure.WithLabelValues(ReasonInvalidToken)); got != 1 {
		t.Fatalf("expected one invalid_token failure, got %v", got)
	}
}

// blockingStore waits for its context to end on every call.
type blockingStore struct{ Store }

func (blockingStore) FindActive(ctx context.Context, _ string, _ time.Time) (Row, error) {
	<-ctx.Done()
	return Row{}, ctx.Err()
}

func TestEngine_StoreTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	cfg := DefaultConfig()
	cfg.StoreTimeout = 20 * time.Millisecond
	eng, err := NewEngine(cfg, blockingStore{Store: h.store}, h.codec, token.NewDigester(""), Options{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	start := time.Now()
	_, err = eng.ValidateAndConsume(context.Background(), "some-token")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("store call was not bounded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.ValidateAndConsume(ctx, "some-token"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	cfg := DefaultConfig()
	cfg.StoreTimeout = 0
	if _, err := NewEngine(cfg, h.store, h.codec, token.Digester{}, Options{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if _, err := NewEngine(DefaultConfig(), nil, h.codec, token.Digester{}, Options{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for nil store, got %v", err)
	}
}
