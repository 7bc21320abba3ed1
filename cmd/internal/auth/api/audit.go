package authapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// audit emits a security event. Tokens and passwords are never passed here.
func (h *Handler) audit(ctx context.Context, r *http.Request, action string, attrs ...any) {
	base := []any{"action", action, "user_agent", strings.TrimSpace(r.UserAgent())}
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		base = append(base, "ip", ip.String())
	}
	h.log.Log(ctx, slog.LevelInfo, "auth.audit", append(base, attrs...)...)
}

func (h *Handler) auditLoginFailed(ctx context.Context, r *http.Request, username string, kind Kind) {
	h.audit(ctx, r, "auth.login.failed", "username", username, "reason", string(kind))
}

func (h *Handler) auditLoginSuccess(ctx context.Context, r *http.Request, userID string) {
	h.audit(ctx, r, "auth.login.success", "user_id", userID)
}

func (h *Handler) auditRefreshFailed(ctx context.Context, r *http.Request, kind Kind) {
	h.audit(ctx, r, "auth.refresh.failed", "reason", string(kind))
}

func (h *Handler) auditLogoutAll(ctx context.Context, r *http.Request, revoked int64) {
	h.audit(ctx, r, "auth.logout_all", "revoked", revoked)
}
