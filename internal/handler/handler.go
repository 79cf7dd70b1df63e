// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/teamman/internal/middleware"
	"github.com/hitoshi/teamman/internal/model"
)

const sessionCookieName = "session_id"

// defaultActivityLimit は一覧取得のlimit未指定時の既定値。
const defaultActivityLimit = 50

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// --- レスポンスDTO ---

// membershipResponse は所属エントリのAPIレスポンス。
type membershipResponse struct {
	UserID    string    `json:"userId"`
	TeamID    string    `json:"teamId"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joinedAt"`
	UserName  string    `json:"userName"`
	UserEmail string    `json:"userEmail"`
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含まない。
type userResponse struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Email           string               `json:"email"`
	Role            string               `json:"role"`
	TeamMemberships []membershipResponse `json:"teamMemberships"`
	Deleted         bool                 `json:"deleted,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
}

// teamResponse はチーム情報のAPIレスポンス。課金識別子は含まない。
type teamResponse struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name"`
	TeamMembers        []membershipResponse `json:"teamMembers"`
	PlanName           *string              `json:"planName,omitempty"`
	SubscriptionStatus *string              `json:"subscriptionStatus,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
}

// invitationResponse は招待情報のAPIレスポンス。
type invitationResponse struct {
	ID           string     `json:"id"`
	TeamID       string     `json:"teamId"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	TeamName     string     `json:"teamName"`
	InviterName  string     `json:"inviterName"`
	InviterEmail string     `json:"inviterEmail"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// activityLogResponse は監査ログ行のAPIレスポンス。
type activityLogResponse struct {
	ID        string          `json:"id"`
	TeamID    *string         `json:"teamId,omitempty"`
	UserID    *string         `json:"userId,omitempty"`
	Action    string          `json:"action"`
	UserName  string          `json:"userName"`
	UserEmail string          `json:"userEmail"`
	TeamName  string          `json:"teamName"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func toMembershipResponses(memberships []model.Membership) []membershipResponse {
	out := make([]membershipResponse, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, membershipResponse{
			UserID:    m.UserID,
			TeamID:    m.TeamID,
			Role:      string(m.Role),
			JoinedAt:  m.JoinedAt,
			UserName:  m.UserName,
			UserEmail: m.UserEmail,
		})
	}
	return out
}

func toUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:              user.ID,
		Name:            user.Name,
		Email:           user.Email,
		Role:            string(user.Role),
		TeamMemberships: toMembershipResponses(user.TeamMemberships),
		Deleted:         user.IsDeleted(),
		CreatedAt:       user.CreatedAt,
	}
}

func toTeamResponse(team *model.Team) teamResponse {
	resp := teamResponse{
		ID:          team.ID,
		Name:        team.Name,
		TeamMembers: toMembershipResponses(team.TeamMembers),
		PlanName:    team.PlanName,
		CreatedAt:   team.CreatedAt,
	}
	if team.SubscriptionStatus != nil {
		status := string(*team.SubscriptionStatus)
		resp.SubscriptionStatus = &status
	}
	return resp
}

func toInvitationResponse(inv *model.Invitation) invitationResponse {
	return invitationResponse{
		ID:           inv.ID,
		TeamID:       inv.TeamID,
		Email:        inv.Email,
		Role:         string(inv.Role),
		Status:       string(inv.Status),
		TeamName:     inv.TeamName,
		InviterName:  inv.InviterName,
		InviterEmail: inv.InviterEmail,
		ResolvedAt:   inv.ResolvedAt,
		CreatedAt:    inv.CreatedAt,
	}
}

func toInvitationResponses(invs []*model.Invitation) []invitationResponse {
	out := make([]invitationResponse, 0, len(invs))
	for _, inv := range invs {
		out = append(out, toInvitationResponse(inv))
	}
	return out
}

func toActivityLogResponses(logs []*model.ActivityLog) []activityLogResponse {
	out := make([]activityLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, activityLogResponse{
			ID:        l.ID,
			TeamID:    l.TeamID,
			UserID:    l.UserID,
			Action:    l.Action,
			UserName:  l.UserName,
			UserEmail: l.UserEmail,
			TeamName:  l.TeamName,
			Metadata:  l.Metadata,
			CreatedAt: l.CreatedAt,
		})
	}
	return out
}

// --- 共通ヘルパー ---

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをJSONとしてデコードする。
// 失敗時はエラーレスポンスを書き込み、falseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// currentUser はセッションミドルウェアが注入した認証済みユーザーを取得する。
// 取得できない場合は401を書き込み、nilを返す。
func currentUser(w http.ResponseWriter, r *http.Request) *model.User {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil
	}
	return user
}

// clientIP はリクエスト元のIPアドレスを返す。
// リバースプロキシ経由の場合はX-Forwarded-Forの先頭を採用する。
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limitParam はクエリ文字列からlimitを読み取る。未指定・不正時は既定値を返す。
func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultActivityLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultActivityLimit
	}
	return limit
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeTeamNotFound, model.ErrCodeUserNotFound,
		model.ErrCodeInvitationNotFound, model.ErrCodeMembershipNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateEmail, model.ErrCodeDuplicateInvitation,
		model.ErrCodeInvitationAlreadyResolved, model.ErrCodeConstraintViolation,
		model.ErrCodeTransactionAborted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
