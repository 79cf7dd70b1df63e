package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/teamman/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// UpdateProfile は表示名・メールアドレスを更新し、所属チームへ変更を伝播させる。
	// nameとemailはnilの場合そのフィールドを変更しない。
	UpdateProfile(ctx context.Context, userID string, name, email *string, ip string) (*model.User, error)
	// DeleteAccount はアカウントを論理削除し、全セッションを破棄する。
	DeleteAccount(ctx context.Context, userID, ip string) error
}

// UserHandler はユーザー自身の操作のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// updateProfileRequest はプロフィール更新リクエストのボディ。
// 省略されたフィールドは変更されない。
type updateProfileRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// UpdateProfile は自分のプロフィールを更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), user.ID, req.Name, req.Email, clientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(updated))
}

// DeleteAccount は自分のアカウントを削除する。
// セッションCookieも破棄される。
// DELETE /api/users/me
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), user.ID, clientIP(r)); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
