package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/teamman/internal/membership"
	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/repository"
	"github.com/hitoshi/teamman/internal/team"
)

// TeamServiceInterface はチームハンドラーが必要とするサービスインターフェース。
type TeamServiceInterface interface {
	Create(ctx context.Context, actor team.Actor, name, ip string) (*model.Team, error)
	Get(ctx context.Context, actor team.Actor, teamID string) (*model.Team, error)
	ListForUser(ctx context.Context, userID string) ([]*model.Team, error)
	Rename(ctx context.Context, actor team.Actor, teamID, name, ip string) (*model.Team, error)
}

// MembershipServiceInterface はメンバー操作ハンドラーが必要とするサービスインターフェース。
type MembershipServiceInterface interface {
	AddMember(ctx context.Context, actor membership.Actor, teamID, userID string, role model.Role, ip string) (*repository.MemberChange, error)
	RemoveMember(ctx context.Context, actor membership.Actor, teamID, userID, ip string) (bool, error)
	ChangeRole(ctx context.Context, actor membership.Actor, teamID, userID string, role model.Role, ip string) (*repository.MemberChange, error)
}

// TeamHandler はチーム管理のHTTPハンドラー。
type TeamHandler struct {
	teams   TeamServiceInterface
	members MembershipServiceInterface
}

// NewTeamHandler はTeamHandlerを生成する。
func NewTeamHandler(teams TeamServiceInterface, members MembershipServiceInterface) *TeamHandler {
	return &TeamHandler{
		teams:   teams,
		members: members,
	}
}

// createTeamRequest はチーム作成リクエストのボディ。
type createTeamRequest struct {
	Name string `json:"name"`
}

// renameTeamRequest はチーム名変更リクエストのボディ。
type renameTeamRequest struct {
	Name string `json:"name"`
}

// addMemberRequest はメンバー追加リクエストのボディ。
type addMemberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// changeMemberRoleRequest はメンバーロール変更リクエストのボディ。
type changeMemberRoleRequest struct {
	Role string `json:"role"`
}

// memberChangeResponse はメンバー追加・ロール変更のAPIレスポンス。
type memberChangeResponse struct {
	Member membershipResponse `json:"member"`
	Added  bool               `json:"added"`
}

// Create はチームを作成する。作成者はオーナーとして参加する。
// POST /api/teams
func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req createTeamRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.teams.Create(r.Context(), team.Actor{ID: user.ID, Role: user.Role}, req.Name, clientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTeamResponse(created))
}

// List は自分が所属するチームの一覧を返す。
// GET /api/teams
func (h *TeamHandler) List(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	teams, err := h.teams.ListForUser(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]teamResponse, 0, len(teams))
	for _, t := range teams {
		out = append(out, toTeamResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get はチーム詳細を取得する。メンバーまたは管理者のみ参照できる。
// GET /api/teams/{id}
func (h *TeamHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	teamID := chi.URLParam(r, "id")
	found, err := h.teams.Get(r.Context(), team.Actor{ID: user.ID, Role: user.Role}, teamID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTeamResponse(found))
}

// Rename はチーム名を変更する。
// PATCH /api/teams/{id}
func (h *TeamHandler) Rename(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req renameTeamRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	teamID := chi.URLParam(r, "id")
	renamed, err := h.teams.Rename(r.Context(), team.Actor{ID: user.ID, Role: user.Role}, teamID, req.Name, clientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTeamResponse(renamed))
}

// AddMember はチームにメンバーを追加する。
// POST /api/teams/{id}/members
func (h *TeamHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ユーザーIDが空です"))
		return
	}

	teamID := chi.URLParam(r, "id")
	change, err := h.members.AddMember(r.Context(),
		membership.Actor{ID: user.ID, Role: user.Role},
		teamID, req.UserID, model.Role(req.Role), clientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if change.Added {
		status = http.StatusCreated
	}
	writeJSON(w, status, memberChangeResponse{
		Member: toMembershipResponses([]model.Membership{change.Entry})[0],
		Added:  change.Added,
	})
}

// RemoveMember はチームからメンバーを取り除く。
// 取り除く対象が存在しない場合も204を返す（冪等）。
// DELETE /api/teams/{id}/members/{userID}
func (h *TeamHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	teamID := chi.URLParam(r, "id")
	targetID := chi.URLParam(r, "userID")

	if _, err := h.members.RemoveMember(r.Context(),
		membership.Actor{ID: user.ID, Role: user.Role},
		teamID, targetID, clientIP(r)); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangeMemberRole はメンバーのチーム内ロールを変更する。
// PATCH /api/teams/{id}/members/{userID}
func (h *TeamHandler) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req changeMemberRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	teamID := chi.URLParam(r, "id")
	targetID := chi.URLParam(r, "userID")

	change, err := h.members.ChangeRole(r.Context(),
		membership.Actor{ID: user.ID, Role: user.Role},
		teamID, targetID, model.Role(req.Role), clientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, memberChangeResponse{
		Member: toMembershipResponses([]model.Membership{change.Entry})[0],
	})
}
