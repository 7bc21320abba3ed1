package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gatekeeper/cmd/security/token"
)

// maxTokenLen bounds presented refresh tokens before hashing.
const maxTokenLen = 4096

// Engine is the session lifecycle engine.
//
// It holds no mutable state of its own; the Store is the single source of
// truth and every call into it runs under StoreTimeout derived from the
// caller's context.
type Engine struct {
	cfg     Config
	store   Store
	codec   *token.Codec
	digest  token.Digester
	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics
}

// Options carries optional Engine collaborators.
type Options struct {
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *Metrics
}

// Issued is the result of opening or refreshing a session.
type Issued struct {
	Session Row
	Access  token.Signed
	Refresh token.Signed
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config, store Store, codec *token.Codec, digest token.Digester, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: nil token codec", ErrConfig)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		codec:   codec,
		digest:  digest,
		now:     opts.Now,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

func (e *Engine) clock() time.Time { return e.now().UTC() }

// CreateSession inserts a new active grant for userID holding refreshToken.
func (e *Engine) CreateSession(ctx context.Context, userID, refreshToken string) (Row, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(refreshToken) == "" {
		return Row{}, errors.New("session.CreateSession: user id and refresh token are required")
	}

	now := e.clock()
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	row, err := e.store.Insert(sctx, NewRow{
		UserID:    userID,
		TokenHash: e.digest.Digest(strings.TrimSpace(refreshToken)),
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.RefreshTTL),
	})
	if err != nil {
		return Row{}, err
	}
	e.metrics.sessionCreated()
	return row, nil
}

// ValidateAndConsume returns the active grant whose current token is refreshToken.
//
// Never-issued, rotated-away, revoked and expired tokens all yield
// ErrSessionNotFound. With reuse detection on, a rotated-away token also
// revokes every session of its owner and the error is a ReuseError.
func (e *Engine) ValidateAndConsume(ctx context.Context, refreshToken string) (Row, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || len(refreshToken) > maxTokenLen {
		return Row{}, ErrSessionNotFound
	}

	hash := e.digest.Digest(refreshToken)
	now := e.clock()

	row, err := e.findActive(ctx, hash, now)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return Row{}, err
	}

	if e.cfg.ReuseDetection {
		if err := e.detectReuse(ctx, hash, now); err != nil {
			return Row{}, err
		}
	}
	return Row{}, ErrSessionNotFound
}

func (e *Engine) findActive(ctx context.Context, hash string, now time.Time) (Row, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.FindActive(sctx, hash, now)
}

// detectReuse returns a ReuseError when hash was rotated away from, nil when it
// was never seen or was retired within ReuseGrace.
func (e *Engine) detectReuse(ctx context.Context, hash string, now time.Time) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	retired, err := e.store.FindRetired(sctx, hash)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	owner := retired.Session

	// A concurrent refresh that lost the rotation race lands here too; inside
	// the window it must not take the winner's fresh grant down with it.
	if now.Sub(retired.RetiredAt) < e.cfg.ReuseGrace {
		e.log.Debug("auth.refresh.reuse_within_grace",
			"session_id", owner.ID,
			"user_id", owner.UserID,
		)
		return nil
	}

	n, err := e.store.RevokeAllForUser(sctx, owner.UserID, now)
	if err != nil {
		return err
	}

	e.metrics.reuseDetected()
	e.metrics.sessionsRevokedAll(n)
	e.log.Warn("auth.refresh.reuse_detected",
		"session_id", owner.ID,
		"user_id", owner.UserID,
		"revoked", n,
	)
	return ReuseError{SessionID: owner.ID, UserID: owner.UserID, Revoked: n}
}

// RotateToken atomically replaces sess's token with newRefreshToken and resets its window.
//
// If the grant was rotated or revoked since sess was read, the caller lost
// the race and gets ErrSessionNotFound.
func (e *Engine) RotateToken(ctx context.Context, sess Row, newRefreshToken string) (Row, error) {
	newRefreshToken = strings.TrimSpace(newRefreshToken)
	if sess.TokenHash == "" || newRefreshToken == "" {
		return Row{}, ErrSessionNotFound
	}

	now := e.clock()
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	row, err := e.store.Rotate(sctx, sess.TokenHash, e.digest.Digest(newRefreshToken), now, now.Add(e.cfg.RefreshTTL))
	if err != nil {
		return Row{}, err
	}
	e.metrics.sessionRotated()
	return row, nil
}

// RevokeSession revokes the grant holding refreshToken. It never fails for
// unknown or already revoked tokens.
func (e *Engine) RevokeSession(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || len(refreshToken) > maxTokenLen {
		return nil
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	n, err := e.store.Revoke(sctx, e.digest.Digest(refreshToken), e.clock())
	if err != nil {
		return err
	}
	if n > 0 {
		e.metrics.sessionRevoked()
	}
	return nil
}

// RevokeAllForUser revokes every live grant of userID and reports how many changed.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, nil
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	n, err := e.store.RevokeAllForUser(sctx, userID, e.clock())
	if err != nil {
		return 0, err
	}
	e.metrics.sessionsRevokedAll(n)
	return n, nil
}

// Session loads a grant by id.
func (e *Engine) Session(ctx context.Context, id string) (Row, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.Get(sctx, id)
}
