package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/teamman/internal/admin"
	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/repository"
	"github.com/hitoshi/teamman/internal/team"
)

// AdminServiceInterface は管理画面ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	ListUsersWithTeams(ctx context.Context, actorRole model.Role) ([]*model.User, error)
	ListTeamsWithMemberCounts(ctx context.Context, actorRole model.Role) ([]*repository.TeamWithMemberCount, error)
	DashboardStats(ctx context.Context, actorRole model.Role) (*admin.DashboardStats, error)
	RecentActivity(ctx context.Context, actorRole model.Role, limit int) ([]*model.ActivityLog, error)
}

// RoleUpdater はユーザーのグローバルロール変更インターフェース。
// user.Serviceがこれを満たす。
type RoleUpdater interface {
	UpdateRole(ctx context.Context, actorRole model.Role, userID string, role model.Role) (*model.User, error)
}

// SubscriptionUpdater はチーム課金情報の更新インターフェース。
// team.Serviceがこれを満たす。
type SubscriptionUpdater interface {
	UpdateSubscription(ctx context.Context, teamID string, patch model.SubscriptionPatch) (*model.Team, error)
	FindByCustomerID(ctx context.Context, customerID string) (*model.Team, error)
}

// TeamDeleter はチームの物理削除インターフェース。
// team.Serviceがこれを満たす。
type TeamDeleter interface {
	Delete(ctx context.Context, actor team.Actor, teamID, ip string) error
}

// AdminHandler は管理画面向けのHTTPハンドラー。
// ロール検証はサービス層で行われるが、課金更新のように
// サービスが操作者を受け取らないものはここで管理者を要求する。
type AdminHandler struct {
	service       AdminServiceInterface
	roleUpdater   RoleUpdater
	subscriptions SubscriptionUpdater
	teamDeleter   TeamDeleter
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(
	service AdminServiceInterface,
	roleUpdater RoleUpdater,
	subscriptions SubscriptionUpdater,
	teamDeleter TeamDeleter,
) *AdminHandler {
	return &AdminHandler{
		service:       service,
		roleUpdater:   roleUpdater,
		subscriptions: subscriptions,
		teamDeleter:   teamDeleter,
	}
}

// adminTeamResponse は管理画面のチーム一覧行のAPIレスポンス。
type adminTeamResponse struct {
	teamResponse
	MemberCount       int     `json:"memberCount"`
	BillingCustomerID *string `json:"billingCustomerId,omitempty"`
}

// dashboardStatsResponse はダッシュボード統計のAPIレスポンス。
type dashboardStatsResponse struct {
	TotalUsers         int            `json:"totalUsers"`
	TotalTeams         int            `json:"totalTeams"`
	PendingInvitations int            `json:"pendingInvitations"`
	ActivitiesLast24h  int            `json:"activitiesLast24h"`
	RecentUsers        []userResponse `json:"recentUsers"`
	GeneratedAt        time.Time      `json:"generatedAt"`
}

// updateUserRoleRequest はグローバルロール変更リクエストのボディ。
type updateUserRoleRequest struct {
	Role string `json:"role"`
}

// ListUsers は全ユーザー（論理削除済みを含む）を所属一覧付きで返す。
// GET /api/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	users, err := h.service.ListUsersWithTeams(r.Context(), user.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTeams は全チームをメンバー数・課金状態付きで返す。
// GET /api/admin/teams
func (h *AdminHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	teams, err := h.service.ListTeamsWithMemberCounts(r.Context(), user.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]adminTeamResponse, 0, len(teams))
	for _, t := range teams {
		out = append(out, adminTeamResponse{
			teamResponse:      toTeamResponse(&t.Team),
			MemberCount:       t.MemberCount,
			BillingCustomerID: t.BillingCustomerID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Stats はダッシュボード統計を返す。
// GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	stats, err := h.service.DashboardStats(r.Context(), user.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recent := make([]userResponse, 0, len(stats.RecentUsers))
	for _, u := range stats.RecentUsers {
		recent = append(recent, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, dashboardStatsResponse{
		TotalUsers:         stats.TotalUsers,
		TotalTeams:         stats.TotalTeams,
		PendingInvitations: stats.PendingInvitations,
		ActivitiesLast24h:  stats.ActivitiesLast24h,
		RecentUsers:        recent,
		GeneratedAt:        stats.GeneratedAt,
	})
}

// RecentActivity は全体のアクティビティログを新しい順に返す。
// GET /api/admin/activity
func (h *AdminHandler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	logs, err := h.service.RecentActivity(r.Context(), user.Role, limitParam(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toActivityLogResponses(logs))
}

// UpdateUserRole はユーザーのグローバルロールを変更する。
// PATCH /api/admin/users/{id}/role
func (h *AdminHandler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req updateUserRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := chi.URLParam(r, "id")
	updated, err := h.roleUpdater.UpdateRole(r.Context(), user.Role, userID, model.Role(req.Role))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(updated))
}

// UpsertSubscription はチームの課金情報をフィールド単位で更新する。
// 各フィールドは省略（変更なし）・null（クリア）・値（上書き）の三状態を持つ。
// PUT /api/admin/teams/{id}/subscription
func (h *AdminHandler) UpsertSubscription(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}
	if user.Role != model.RoleAdmin {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		return
	}

	var patch model.SubscriptionPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	teamID := chi.URLParam(r, "id")
	updated, err := h.subscriptions.UpdateSubscription(r.Context(), teamID, patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTeamResponse(updated))
}

// FindTeamByCustomerID は課金顧客IDからチームを逆引きする。
// 課金Webhook処理のための管理エンドポイント。
// GET /api/admin/teams/by-customer/{customerID}
func (h *AdminHandler) FindTeamByCustomerID(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}
	if user.Role != model.RoleAdmin {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		return
	}

	customerID := chi.URLParam(r, "customerID")
	found, err := h.subscriptions.FindByCustomerID(r.Context(), customerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTeamResponse(found))
}

// DeleteTeam はチームを物理削除する。
// DELETE /api/admin/teams/{id}
func (h *AdminHandler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	teamID := chi.URLParam(r, "id")
	if err := h.teamDeleter.Delete(r.Context(), team.Actor{ID: user.ID, Role: user.Role}, teamID, clientIP(r)); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
