// Package team はチーム管理のドメインロジックを提供する。
package team

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/teamman/internal/activity"
	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/repository"
	"github.com/hitoshi/teamman/internal/security"
)

// Actor は操作の実行者を表す。
type Actor struct {
	ID   string
	Role model.Role
}

// Service はチーム管理のサービス層。
// チームの作成・改名・課金情報更新・削除のビジネスロジックを提供する。
type Service struct {
	teamRepo   repository.TeamRepository
	memberRepo repository.MembershipRepository
	userRepo   repository.UserRepository
	recorder   *activity.Recorder
	sanitizer  security.NameSanitizerService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	teamRepo repository.TeamRepository,
	memberRepo repository.MembershipRepository,
	userRepo repository.UserRepository,
	recorder *activity.Recorder,
	sanitizer security.NameSanitizerService,
) *Service {
	return &Service{
		teamRepo:   teamRepo,
		memberRepo: memberRepo,
		userRepo:   userRepo,
		recorder:   recorder,
		sanitizer:  sanitizer,
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

// Create は新しいチームを作成し、作成者をownerとして参加させる。
func (s *Service) Create(ctx context.Context, actor Actor, name, ip string) (*model.Team, error) {
	cleaned := s.sanitizer.SanitizeName(name)
	if cleaned == "" {
		return nil, model.NewInvalidRequestError("チーム名が空です")
	}

	team := &model.Team{
		ID:        uuid.New().String(),
		Name:      cleaned,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.teamRepo.Create(ctx, team); err != nil {
		return nil, fmt.Errorf("チームの作成に失敗しました: %w", err)
	}

	change, err := s.memberRepo.AddMember(ctx, team.ID, actor.ID, model.RoleOwner, "", "")
	if err != nil {
		// owner不在のチームは意味を持たないため、作成を取り消す
		if _, delErr := s.teamRepo.Delete(ctx, team.ID); delErr != nil {
			slog.Error("owner参加に失敗したチームの取り消しに失敗しました",
				slog.String("team_id", team.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("作成者のowner参加に失敗しました: %w", err)
	}
	team.TeamMembers = []model.Membership{change.Entry}

	s.recorder.Record(ctx, activity.Entry{
		TeamID:    &team.ID,
		UserID:    &actor.ID,
		Action:    model.ActivityCreateTeam,
		IPAddress: ip,
		UserName:  change.Entry.UserName,
		UserEmail: change.Entry.UserEmail,
		TeamName:  team.Name,
	})

	slog.Info("チームを作成しました",
		slog.String("team_id", team.ID),
		slog.String("owner_id", actor.ID),
	)

	return team, nil
}

// Get は指定IDのチームをメンバー一覧付きで返す。
// メンバーでないユーザーからの参照は拒否する（グローバル管理者を除く）。
func (s *Service) Get(ctx context.Context, actor Actor, teamID string) (*model.Team, error) {
	team, err := s.teamRepo.FindByID(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("チームの取得に失敗しました: %w", err)
	}
	if team == nil {
		return nil, model.NewTeamNotFoundError(teamID)
	}

	if actor.Role != model.RoleAdmin && team.MemberFor(actor.ID) == nil {
		return nil, model.NewForbiddenError()
	}

	return team, nil
}

// ListForUser はユーザーが所属するチームの一覧を返す。
// 所属の判定にはユーザー側の埋め込み一覧を使用する。
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*model.Team, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}

	if len(user.TeamMemberships) == 0 {
		return []*model.Team{}, nil
	}

	ids := make([]string, len(user.TeamMemberships))
	for i, m := range user.TeamMemberships {
		ids[i] = m.TeamID
	}

	teams, err := s.teamRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("チーム一覧の取得に失敗しました: %w", err)
	}
	return teams, nil
}

// Rename はチーム名を変更する。
// 過去に書き込まれた招待・アクティビティログ内のチーム名スナップショットは
// 凍結された履歴であり、追随させない。
func (s *Service) Rename(ctx context.Context, actor Actor, teamID, name, ip string) (*model.Team, error) {
	cleaned := s.sanitizer.SanitizeName(name)
	if cleaned == "" {
		return nil, model.NewInvalidRequestError("チーム名が空です")
	}
	if err := s.authorize(ctx, actor, teamID); err != nil {
		return nil, err
	}

	team, err := s.teamRepo.Rename(ctx, teamID, cleaned)
	if err != nil {
		return nil, fmt.Errorf("チーム名の変更に失敗しました: %w", err)
	}
	if team == nil {
		return nil, model.NewTeamNotFoundError(teamID)
	}

	s.recorder.Record(ctx, activity.Entry{
		TeamID:    &teamID,
		UserID:    &actor.ID,
		Action:    model.ActivityRenameTeam,
		IPAddress: ip,
		TeamName:  team.Name,
		Metadata:  map[string]any{"newName": team.Name},
	})

	return team, nil
}

// UpdateSubscription は課金情報をフィールド単位で冪等に更新する。
// 課金プロバイダのWebhook・管理画面から呼ばれ、同じパッチの再適用は安全。
func (s *Service) UpdateSubscription(ctx context.Context, teamID string, patch model.SubscriptionPatch) (*model.Team, error) {
	if patch.Empty() {
		return nil, model.NewInvalidRequestError("更新するフィールドがありません")
	}

	if patch.Status.Set && patch.Status.Value != nil {
		if !model.SubscriptionStatus(*patch.Status.Value).Valid() {
			return nil, model.NewInvalidRequestError(fmt.Sprintf("不正なサブスクリプション状態です: %s", *patch.Status.Value))
		}
	}

	team, err := s.teamRepo.UpdateSubscription(ctx, teamID, patch)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, model.NewTeamNotFoundError(teamID)
	}

	s.recorder.Record(ctx, activity.Entry{
		TeamID:   &teamID,
		Action:   model.ActivityUpdateSubscription,
		TeamName: team.Name,
		Metadata: subscriptionPatchMetadata(patch),
	})

	return team, nil
}

// FindByCustomerID は課金顧客IDでチームを検索する。
// 課金プロバイダのWebhookがイベントの宛先チームを解決するために使用する。
func (s *Service) FindByCustomerID(ctx context.Context, customerID string) (*model.Team, error) {
	if customerID == "" {
		return nil, model.NewInvalidRequestError("顧客IDが空です")
	}
	team, err := s.teamRepo.FindByCustomerID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("チームの検索に失敗しました: %w", err)
	}
	if team == nil {
		return nil, model.NewTeamNotFoundError(customerID)
	}
	return team, nil
}

// Delete はチームを物理削除する。グローバル管理者のみ実行できる。
// チーム行の削除後、各メンバーのユーザー側エントリをベストエフォートで掃除する。
// 掃除に失敗して残った片側エントリは、以降のメンバーシップ操作が自己修復する。
func (s *Service) Delete(ctx context.Context, actor Actor, teamID, ip string) error {
	if actor.Role != model.RoleAdmin {
		return model.NewForbiddenError()
	}

	team, err := s.teamRepo.Delete(ctx, teamID)
	if err != nil {
		return fmt.Errorf("チームの削除に失敗しました: %w", err)
	}
	if team == nil {
		return model.NewTeamNotFoundError(teamID)
	}

	for _, m := range team.TeamMembers {
		if err := s.memberRepo.RemoveFromUserSide(ctx, m.UserID, teamID); err != nil {
			slog.Warn("削除済みチームのユーザー側エントリの掃除に失敗しました",
				slog.String("team_id", teamID),
				slog.String("user_id", m.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.recorder.Record(ctx, activity.Entry{
		TeamID:    &teamID,
		UserID:    &actor.ID,
		Action:    model.ActivityDeleteTeam,
		IPAddress: ip,
		TeamName:  team.Name,
		Metadata:  map[string]any{"memberCount": len(team.TeamMembers)},
	})

	slog.Info("チームを削除しました",
		slog.String("team_id", teamID),
		slog.Int("member_count", len(team.TeamMembers)),
	)

	return nil
}

// subscriptionPatchMetadata はパッチで指定されたフィールド名の一覧をメタデータにする。
// 課金識別子そのものは監査ログに残さない。
func subscriptionPatchMetadata(patch model.SubscriptionPatch) map[string]any {
	fields := []string{}
	if patch.CustomerID.Set {
		fields = append(fields, "customerId")
	}
	if patch.SubscriptionID.Set {
		fields = append(fields, "subscriptionId")
	}
	if patch.ProductID.Set {
		fields = append(fields, "productId")
	}
	if patch.PlanName.Set {
		fields = append(fields, "planName")
	}
	if patch.Status.Set {
		fields = append(fields, "status")
	}
	return map[string]any{"fields": fields}
}
