// Package invitation はチーム招待のドメインロジックを提供する。
package invitation

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/teamman/internal/activity"
	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/repository"
)

// Actor は操作の実行者を表す。
type Actor struct {
	ID   string
	Role model.Role
}

// TransitionCollector は招待の状態遷移の観測インターフェース。
type TransitionCollector interface {
	RecordInvitationTransition(status string)
}

// Service は招待管理のサービス層。
// 招待の作成・一覧・受諾・辞退のビジネスロジックを提供する。
type Service struct {
	invRepo    repository.InvitationRepository
	teamRepo   repository.TeamRepository
	userRepo   repository.UserRepository
	memberRepo repository.MembershipRepository
	recorder   *activity.Recorder
	metrics    TransitionCollector
	ttl        time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
// ttl は保留中の招待が期限切れになるまでの期間。
func NewService(
	invRepo repository.InvitationRepository,
	teamRepo repository.TeamRepository,
	userRepo repository.UserRepository,
	memberRepo repository.MembershipRepository,
	recorder *activity.Recorder,
	metrics TransitionCollector,
	ttl time.Duration,
) *Service {
	if ttl <= 0 {
		ttl = model.InvitationTTL
	}
	return &Service{
		invRepo:    invRepo,
		teamRepo:   teamRepo,
		userRepo:   userRepo,
		memberRepo: memberRepo,
		recorder:   recorder,
		metrics:    metrics,
		ttl:        ttl,
	}
}

// authorize はチームに対する招待管理の権限を判定する。
func (s *Service) authorize(ctx context.Context, actor Actor, teamID string) error {
	if actor.Role == model.RoleAdmin {
		return nil
	}
	role, err := s.memberRepo.TeamRoleOf(ctx, teamID, actor.ID)
	if err != nil {
		return fmt.Errorf("実行者のロール解決に失敗しました: %w", err)
	}
	if role != model.RoleOwner {
		return model.NewForbiddenError()
	}
	return nil
}

// Create は招待を作成する。
// チーム名・招待者情報は作成時点のスナップショットとして凍結される。
// 同一 (チーム, メールアドレス) の保留中招待が既にある場合はエラーになる。
func (s *Service) Create(ctx context.Context, actor Actor, teamID, email string, role model.Role, ip string) (*model.Invitation, error) {
	if !role.ValidMembershipRole() {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("不正なロールです: %s", role))
	}
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, teamID); err != nil {
		return nil, err
	}

	team, err := s.teamRepo.FindByID(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("チームの取得に失敗しました: %w", err)
	}
	if team == nil {
		return nil, model.NewTeamNotFoundError(teamID)
	}

	inviter, err := s.userRepo.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("招待者の取得に失敗しました: %w", err)
	}
	if inviter == nil {
		return nil, model.NewUserNotFoundError(actor.ID)
	}

	inv := &model.Invitation{
		ID:           uuid.New().String(),
		TeamID:       teamID,
		Email:        normalized,
		Role:         role,
		InvitedBy:    actor.ID,
		Status:       model.InvitationStatusPending,
		TeamName:     team.Name,
		InviterName:  inviter.Name,
		InviterEmail: inviter.Email,
		CreatedAt:    time.Now(),
	}
	if err := s.invRepo.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, activity.Entry{
		TeamID:    &teamID,
		UserID:    &actor.ID,
		Action:    model.ActivityInviteMember,
		IPAddress: ip,
		UserName:  inviter.Name,
		UserEmail: inviter.Email,
		TeamName:  team.Name,
		Metadata:  map[string]any{"invitedEmail": normalized, "role": string(role)},
	})

	slog.Info("招待を作成しました",
		slog.String("invitation_id", inv.ID),
		slog.String("team_id", teamID),
	)

	return inv, nil
}

// ListPendingByTeam はチームの保留中招待を返す。owner・グローバル管理者のみ参照できる。
func (s *Service) ListPendingByTeam(ctx context.Context, actor Actor, teamID string) ([]*model.Invitation, error) {
	if err := s.authorize(ctx, actor, teamID); err != nil {
		return nil, err
	}
	invs, err := s.invRepo.ListPendingByTeam(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("保留中招待の取得に失敗しました: %w", err)
	}
	return invs, nil
}

// ListPendingForUser はユーザーのメールアドレス宛の保留中招待を返す。
func (s *Service) ListPendingForUser(ctx context.Context, userID string) ([]*model.Invitation, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	invs, err := s.invRepo.ListPendingByEmail(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("保留中招待の取得に失敗しました: %w", err)
	}
	return invs, nil
}

// Accept は招待を受諾し、ユーザーをチームに参加させる。
// 宛先メールアドレスと受諾者のメールアドレスが一致しない場合は拒否する。
// 検証・メンバーシップ書き込み・招待の確定は単一トランザクションで行われ、
// 失敗時は招待が保留中のまま残る。
func (s *Service) Accept(ctx context.Context, userID, invitationID, ip string) (*model.Invitation, error) {
	user, inv, err := s.loadForResolution(ctx, userID, invitationID)
	if err != nil {
		return nil, err
	}

	resolved, change, err := s.invRepo.Accept(ctx, invitationID, userID, s.ttl)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordInvitationTransition(string(model.InvitationStatusAccepted))
	}

	s.recorder.Record(ctx, activity.Entry{
		TeamID:    &resolved.TeamID,
		UserID:    &userID,
		Action:    model.ActivityAcceptInvitation,
		IPAddress: ip,
		UserName:  user.Name,
		UserEmail: user.Email,
		TeamName:  resolved.TeamName,
		Metadata:  map[string]any{"invitationId": resolved.ID, "role": string(change.Entry.Role)},
	})

	slog.Info("招待が受諾されました",
		slog.String("invitation_id", inv.ID),
		slog.String("team_id", resolved.TeamID),
		slog.String("user_id", userID),
	)

	return resolved, nil
}

// Decline は招待を辞退する。検証はAcceptと同一で、メンバーシップには触れない。
func (s *Service) Decline(ctx context.Context, userID, invitationID, ip string) (*model.Invitation, error) {
	user, _, err := s.loadForResolution(ctx, userID, invitationID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.invRepo.Decline(ctx, invitationID, s.ttl)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordInvitationTransition(string(model.InvitationStatusDeclined))
	}

	s.recorder.Record(ctx, activity.Entry{
		TeamID:    &resolved.TeamID,
		UserID:    &userID,
		Action:    model.ActivityDeclineInvitation,
		IPAddress: ip,
		UserName:  user.Name,
		UserEmail: user.Email,
		TeamName:  resolved.TeamName,
		Metadata:  map[string]any{"invitationId": resolved.ID},
	})

	return resolved, nil
}

// loadForResolution は受諾・辞退に先立つ共通検証を行う。
// 招待の宛先メールアドレスと操作者のメールアドレスの一致を要求する。
func (s *Service) loadForResolution(ctx context.Context, userID, invitationID string) (*model.User, *model.Invitation, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, nil, model.NewUserNotFoundError(userID)
	}

	inv, err := s.invRepo.FindByID(ctx, invitationID)
	if err != nil {
		return nil, nil, fmt.Errorf("招待の取得に失敗しました: %w", err)
	}
	if inv == nil {
		return nil, nil, model.NewInvitationNotFoundError(invitationID)
	}

	if !strings.EqualFold(inv.Email, user.Email) {
		// 宛先でないユーザーには招待の存在も明かさない
		return nil, nil, model.NewInvitationNotFoundError(invitationID)
	}

	return user, inv, nil
}

// normalizeEmail はメールアドレスを検証して小文字化する。
func normalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", model.NewInvalidRequestError("メールアドレスが空です")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", model.NewInvalidRequestError(fmt.Sprintf("メールアドレスの形式が不正です: %s", trimmed))
	}
	return strings.ToLower(trimmed), nil
}
