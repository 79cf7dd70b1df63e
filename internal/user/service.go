// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/hitoshi/teamman/internal/activity"
	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/repository"
	"github.com/hitoshi/teamman/internal/security"
)

// Service はユーザー管理のサービス層。
// プロフィール更新、グローバルロール変更、退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	recorder    *activity.Recorder
	sanitizer   security.NameSanitizerService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	recorder *activity.Recorder,
	sanitizer security.NameSanitizerService,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		recorder:    recorder,
		sanitizer:   sanitizer,
	}
}

// Get は指定IDの有効なユーザーを所属チーム一覧付きで返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	return user, nil
}

// UpdateProfile は表示名・メールアドレスを部分更新する。
// 表示名は保存前にサニタイズされる（非正規化コピーへそのまま複製されるため）。
// ユーザー自身の埋め込み一覧内のコピーは同一トランザクションで更新され、
// チーム側コピーへの伝播タスクが登録される。
func (s *Service) UpdateProfile(ctx context.Context, userID string, name, email *string, ip string) (*model.User, error) {
	if name == nil && email == nil {
		return nil, model.NewInvalidRequestError("更新するフィールドがありません")
	}

	if name != nil {
		cleaned := s.sanitizer.SanitizeName(*name)
		if cleaned == "" {
			return nil, model.NewInvalidRequestError("表示名が空です")
		}
		name = &cleaned
	}

	if email != nil {
		normalized, err := normalizeEmail(*email)
		if err != nil {
			return nil, err
		}
		email = &normalized
	}

	updated, err := s.userRepo.UpdateProfile(ctx, userID, name, email)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError(userID)
	}

	s.recorder.Record(ctx, activity.Entry{
		UserID:    &userID,
		Action:    model.ActivityUpdateProfile,
		IPAddress: ip,
		UserName:  updated.Name,
		UserEmail: updated.Email,
	})

	slog.Info("プロフィールを更新しました",
		slog.String("user_id", userID),
		slog.Int("fanout_teams", len(updated.TeamMemberships)),
	)

	return updated, nil
}

// UpdateRole はグローバルロールを更新する。グローバル管理者のみ実行できる。
// チーム内ロール（メンバーシップ）には影響しない。
func (s *Service) UpdateRole(ctx context.Context, actorRole model.Role, userID string, role model.Role) (*model.User, error) {
	if actorRole != model.RoleAdmin {
		return nil, model.NewForbiddenError()
	}
	if !role.ValidGlobalRole() {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("不正なロールです: %s", role))
	}

	updated, err := s.userRepo.UpdateRole(ctx, userID, role)
	if err != nil {
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	return updated, nil
}

// DeleteAccount はユーザーを論理削除し、全セッションを無効化する。
// 冪等であり、既に削除済みでも成功する。
// メンバーシップの埋め込みエントリはそのまま残す（チーム側一覧の参照時に
// 論理削除済みユーザーとして表示される）。
func (s *Service) DeleteAccount(ctx context.Context, userID, ip string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	if err := s.userRepo.SoftDelete(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの論理削除に失敗しました: %w", err)
	}

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	// 既に削除済みだった場合（user == nil）はログを重複させない
	if user != nil {
		s.recorder.Record(ctx, activity.Entry{
			UserID:    &userID,
			Action:    model.ActivityDeleteAccount,
			IPAddress: ip,
			UserName:  user.Name,
			UserEmail: user.Email,
		})
	}

	slog.Info("退会処理が完了しました", slog.String("user_id", userID))

	return nil
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
