package authapi

import (
	"errors"
	"log/slog"
	"net/http"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/account"
)

// Handler wires HTTP auth endpoints to the account service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sameSite http.SameSite
	accounts *account.Service
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, accounts *account.Service) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if accounts == nil {
		return nil, errors.New("auth: nil account service")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sameSite, err := ParseSameSite(cfg.CookieSameSite)
	if err != nil {
		return nil, err
	}
	return &Handler{log: log, cfg: cfg, sameSite: sameSite, accounts: accounts}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/auth/register", h.handleRegister)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/logout-all", h.handleLogoutAll)
	mux.HandleFunc("/api/auth/me", h.handleMe)
}

// fail classifies err, logs unexpected ones, and writes the failure.
func (h *Handler) fail(w http.ResponseWriter, event string, err error) Failure {
	f, known := classify(err)
	if !known {
		h.log.Error(event, "err", err)
	}
	writeFailure(w, f)
	return f
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeFailure(w, failBadBody)
		return
	}

	u, err := h.accounts.Register(r.Context(), identity.RegistrationInput{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		h.fail(w, "auth.register.fail", err)
		return
	}

	writeJSON(w, http.StatusCreated, userMessageResponse{
		Message: "User registered successfully",
		User:    toUserResponse(u),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeFailure(w, failBadBody)
		return
	}

	ctx := r.Context()
	res, err := h.accounts.Login(ctx, identity.LoginInput{Username: req.Username, Password: req.Password})
	if err != nil {
		f := h.fail(w, "auth.login.fail", err)
		h.auditLoginFailed(ctx, r, identity.NormalizeUsername(req.Username), f.Kind)
		return
	}

	h.auditLoginSuccess(ctx, r, res.User.ID)
	h.setAuthCookies(w, res.Tokens)
	writeJSON(w, http.StatusOK, userMessageResponse{
		Message: "Login successful",
		User:    toUserResponse(res.User),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	refreshToken := h.cookieValue(r, h.cfg.RefreshCookieName)
	if refreshToken == "" {
		writeFailure(w, failMissingRefresh)
		return
	}

	ctx := r.Context()
	tokens, err := h.accounts.Refresh(ctx, refreshToken)
	if err != nil {
		f := h.fail(w, "auth.refresh.fail", err)
		h.auditRefreshFailed(ctx, r, f.Kind)
		return
	}

	h.setAuthCookies(w, tokens)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Token refreshed successfully"})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	refreshToken := h.cookieValue(r, h.cfg.RefreshCookieName)
	if refreshToken == "" {
		writeFailure(w, failMissingRefresh)
		return
	}

	if err := h.accounts.Logout(r.Context(), refreshToken); err != nil {
		h.fail(w, "auth.logout.fail", err)
		return
	}

	h.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	n, err := h.accounts.LogoutAll(ctx, h.accessToken(r))
	if err != nil {
		h.fail(w, "auth.logout_all.fail", err)
		return
	}

	h.auditLogoutAll(ctx, r, n)
	h.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{Message: "Logged out of all sessions", Revoked: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, err := h.accounts.Me(r.Context(), h.accessToken(r))
	if err != nil {
		h.fail(w, "auth.me.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}
