package membership

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/teamman/internal/activity"
	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/repository"
)

// Actor は操作の実行者を表す。
// Role はグローバルロールであり、チーム内での権限はチーム側一覧から解決する。
type Actor struct {
	ID   string
	Role model.Role
}

// OperationCollector はメンバーシップ操作の観測インターフェース。
type OperationCollector interface {
	RecordMembershipOperation(operation string, success bool)
	RecordMembershipRepair(operation string)
}

// Service はメンバーシップ操作のサービス層。
// 両側同時更新の実体はリポジトリのトランザクションが担い、
// このサービスは権限判定・監査ログ・観測を重ねる。
type Service struct {
	memberRepo repository.MembershipRepository
	teamRepo   repository.TeamRepository
	userRepo   repository.UserRepository
	recorder   *activity.Recorder
	metrics    OperationCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	memberRepo repository.MembershipRepository,
	teamRepo repository.TeamRepository,
	userRepo repository.UserRepository,
	recorder *activity.Recorder,
	metrics OperationCollector,
) *Service {
	return &Service{
		memberRepo: memberRepo,
		teamRepo:   teamRepo,
		userRepo:   userRepo,
		recorder:   recorder,
		metrics:    metrics,
	}
}

// authorize はチームに対する管理操作の権限を判定する。
// グローバル管理者、またはチーム側一覧でownerであるユーザーのみ許可する。
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

// AddMember はユーザーをチームに追加する。
// 既に所属している場合も成功する（冪等）。片側欠落があれば修復される。
func (s *Service) AddMember(ctx context.Context, actor Actor, teamID, userID string, role model.Role, ip string) (*repository.MemberChange, error) {
	if !role.ValidMembershipRole() {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("不正なロールです: %s", role))
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

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}

	change, err := s.memberRepo.AddMember(ctx, teamID, userID, role, user.Name, user.Email)
	s.observe("add", err == nil, change)
	if err != nil {
		return nil, err
	}

	if change.Added {
		s.recorder.Record(ctx, activity.Entry{
			TeamID:    &teamID,
			UserID:    &userID,
			Action:    model.ActivityAddMember,
			IPAddress: ip,
			UserName:  change.Entry.UserName,
			UserEmail: change.Entry.UserEmail,
			TeamName:  team.Name,
			Metadata:  map[string]any{"role": string(role), "addedBy": actor.ID},
		})
	}

	return change, nil
}

// RemoveMember はユーザーをチームから取り除く。
// 実行者はチームのowner・グローバル管理者、または本人（脱退）に限る。
// 所属していない場合も成功する（冪等）。
func (s *Service) RemoveMember(ctx context.Context, actor Actor, teamID, userID, ip string) (bool, error) {
	if actor.ID != userID {
		if err := s.authorize(ctx, actor, teamID); err != nil {
			return false, err
		}
	}

	team, err := s.teamRepo.FindByID(ctx, teamID)
	if err != nil {
		return false, fmt.Errorf("チームの取得に失敗しました: %w", err)
	}

	removed, err := s.memberRepo.RemoveMember(ctx, teamID, userID)
	s.observe("remove", err == nil, nil)
	if err != nil {
		return false, err
	}

	if removed {
		teamName := ""
		if team != nil {
			teamName = team.Name
		}
		s.recorder.Record(ctx, activity.Entry{
			TeamID:    &teamID,
			UserID:    &userID,
			Action:    model.ActivityRemoveMember,
			IPAddress: ip,
			TeamName:  teamName,
			Metadata:  map[string]any{"removedBy": actor.ID},
		})
	}

	return removed, nil
}

// ChangeRole はメンバーのチーム内ロールを変更する。
// チーム側一覧が存在判定の権威であり、所属していない場合はエラーになる。
func (s *Service) ChangeRole(ctx context.Context, actor Actor, teamID, userID string, role model.Role, ip string) (*repository.MemberChange, error) {
	if !role.ValidMembershipRole() {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("不正なロールです: %s", role))
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

	change, err := s.memberRepo.UpdateMemberRole(ctx, teamID, userID, role)
	s.observe("update_role", err == nil, change)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, activity.Entry{
		TeamID:    &teamID,
		UserID:    &userID,
		Action:    model.ActivityChangeMemberRole,
		IPAddress: ip,
		UserName:  change.Entry.UserName,
		UserEmail: change.Entry.UserEmail,
		TeamName:  team.Name,
		Metadata:  map[string]any{"role": string(role), "changedBy": actor.ID},
	})

	return change, nil
}

// RoleOf はチーム側（権威側）一覧から指定ユーザーのロールを返す。
// 所属していない場合は空文字列を返す。
func (s *Service) RoleOf(ctx context.Context, teamID, userID string) (model.Role, error) {
	return s.memberRepo.TeamRoleOf(ctx, teamID, userID)
}

// observe は操作結果をメトリクスへ記録する。
func (s *Service) observe(operation string, success bool, change *repository.MemberChange) {
	if s.metrics != nil {
		s.metrics.RecordMembershipOperation(operation, success)
	}
	if change != nil && change.Repaired {
		if s.metrics != nil {
			s.metrics.RecordMembershipRepair(operation)
		}
		slog.Warn("埋め込みメンバーシップの片側欠落を修復しました",
			slog.String("operation", operation),
			slog.String("user_id", change.Entry.UserID),
			slog.String("team_id", change.Entry.TeamID),
		)
	}
}
