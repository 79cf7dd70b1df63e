package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/team"
)

// ActivityServiceInterface はアクティビティログの取得インターフェース。
type ActivityServiceInterface interface {
	ListByTeam(ctx context.Context, teamID string, limit int) ([]*model.ActivityLog, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.ActivityLog, error)
}

// TeamViewer はチームの参照権限チェックに使用するインターフェース。
// team.Serviceがこれを満たす。
type TeamViewer interface {
	Get(ctx context.Context, actor team.Actor, teamID string) (*model.Team, error)
}

// ActivityHandler はアクティビティログ参照のHTTPハンドラー。
type ActivityHandler struct {
	activities ActivityServiceInterface
	teams      TeamViewer
}

// NewActivityHandler はActivityHandlerを生成する。
func NewActivityHandler(activities ActivityServiceInterface, teams TeamViewer) *ActivityHandler {
	return &ActivityHandler{
		activities: activities,
		teams:      teams,
	}
}

// ListByTeam はチームのアクティビティログを新しい順に返す。
// チームの参照権限（メンバーまたは管理者）を持つ場合のみ閲覧できる。
// GET /api/teams/{id}/activity
func (h *ActivityHandler) ListByTeam(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	teamID := chi.URLParam(r, "id")

	// 参照権限チェック（非メンバーには404/403が返る）
	if _, err := h.teams.Get(r.Context(), team.Actor{ID: user.ID, Role: user.Role}, teamID); err != nil {
		handleServiceError(w, err)
		return
	}

	logs, err := h.activities.ListByTeam(r.Context(), teamID, limitParam(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toActivityLogResponses(logs))
}

// ListMine は自分のアクティビティログを新しい順に返す。
// GET /api/users/me/activity
func (h *ActivityHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	logs, err := h.activities.ListByUser(r.Context(), user.ID, limitParam(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toActivityLogResponses(logs))
}
