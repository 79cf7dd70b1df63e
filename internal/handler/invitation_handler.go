package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/teamman/internal/invitation"
	"github.com/hitoshi/teamman/internal/model"
)

// InvitationServiceInterface は招待ハンドラーが必要とするサービスインターフェース。
type InvitationServiceInterface interface {
	Create(ctx context.Context, actor invitation.Actor, teamID, email string, role model.Role, ip string) (*model.Invitation, error)
	ListPendingByTeam(ctx context.Context, actor invitation.Actor, teamID string) ([]*model.Invitation, error)
	ListPendingForUser(ctx context.Context, userID string) ([]*model.Invitation, error)
	Accept(ctx context.Context, userID, invitationID, ip string) (*model.Invitation, error)
	Decline(ctx context.Context, userID, invitationID, ip string) (*model.Invitation, error)
}

// InvitationHandler は招待ライフサイクルのHTTPハンドラー。
type InvitationHandler struct {
	service InvitationServiceInterface
}

// NewInvitationHandler はInvitationHandlerを生成する。
func NewInvitationHandler(service InvitationServiceInterface) *InvitationHandler {
	return &InvitationHandler{service: service}
}

// createInvitationRequest は招待作成リクエストのボディ。
type createInvitationRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Create はチームへの招待を作成する。
// POST /api/teams/{id}/invitations
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req createInvitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	teamID := chi.URLParam(r, "id")
	created, err := h.service.Create(r.Context(),
		invitation.Actor{ID: user.ID, Role: user.Role},
		teamID, req.Email, model.Role(req.Role), clientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvitationResponse(created))
}

// ListByTeam はチームの保留中招待の一覧を返す。
// GET /api/teams/{id}/invitations
func (h *InvitationHandler) ListByTeam(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	teamID := chi.URLParam(r, "id")
	invs, err := h.service.ListPendingByTeam(r.Context(),
		invitation.Actor{ID: user.ID, Role: user.Role}, teamID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvitationResponses(invs))
}

// ListMine は自分宛の保留中招待の一覧を返す。
// GET /api/invitations
func (h *InvitationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	invs, err := h.service.ListPendingForUser(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvitationResponses(invs))
}

// Accept は招待を受諾し、チームに参加する。
// POST /api/invitations/{id}/accept
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	invitationID := chi.URLParam(r, "id")
	accepted, err := h.service.Accept(r.Context(), user.ID, invitationID, clientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvitationResponse(accepted))
}

// Decline は招待を辞退する。
// POST /api/invitations/{id}/decline
func (h *InvitationHandler) Decline(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	invitationID := chi.URLParam(r, "id")
	declined, err := h.service.Decline(r.Context(), user.ID, invitationID, clientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvitationResponse(declined))
}
