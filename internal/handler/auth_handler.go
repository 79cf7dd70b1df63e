package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/teamman/internal/auth"
	"github.com/hitoshi/teamman/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, params auth.SignUpParams) (*model.User, *model.Session, error)
	SignIn(ctx context.Context, email, password, ip string) (*model.User, *model.Session, error)
	SignOut(ctx context.Context, sessionID, ip string) error
	CurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はパスワード認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Password     string  `json:"password"`
	InvitationID *string `json:"invitationId,omitempty"`
}

// signInRequest はサインインリクエストのボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp は新規ユーザー登録を処理する。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, session, err := h.service.SignUp(r.Context(), auth.SignUpParams{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		InvitationID: req.InvitationID,
		IPAddress:    clientIP(r),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// SignIn はメールアドレスとパスワードによるログインを処理する。
// POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, session, err := h.service.SignIn(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// SignOut はセッションを破棄する。
// セッションCookieがない場合でも成功として扱う（冪等）。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	if err := h.service.SignOut(r.Context(), sessionID, clientIP(r)); err != nil {
		handleServiceError(w, err)
		return
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	user, err := h.service.CurrentUser(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// setSessionCookie はセッションCookieを設定する（HTTP Only）。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
