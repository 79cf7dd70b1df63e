// Package admin は管理画面向けの読み取り専用プロジェクションを提供する。
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/teamman/internal/activity"
	"github.com/hitoshi/teamman/internal/cache"
	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/repository"
)

// dashboardCacheKey はダッシュボード統計のキャッシュキー。
const dashboardCacheKey = "admin:dashboard-stats"

// recentUsersLimit はダッシュボードに表示する直近登録ユーザー数。
const recentUsersLimit = 5

// DashboardStats は管理ダッシュボードの統計を表す。
type DashboardStats struct {
	TotalUsers         int           `json:"totalUsers"`
	TotalTeams         int           `json:"totalTeams"`
	PendingInvitations int           `json:"pendingInvitations"`
	ActivitiesLast24h  int           `json:"activitiesLast24h"`
	RecentUsers        []*model.User `json:"recentUsers"`
	GeneratedAt        time.Time     `json:"generatedAt"`
}

// Service は管理画面のサービス層。すべての操作はグローバル管理者に限られる。
// 集約はすべて読み取り専用であり、非正規化コピーの一時的な不整合は
// 修復せずそのまま返す（修復は書き込み経路の責務）。
type Service struct {
	adminRepo repository.AdminRepository
	recorder  *activity.Recorder
	cache     cache.Store
	cacheTTL  time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
// store がnilの場合、ダッシュボード統計は毎回データベースから集計される。
func NewService(adminRepo repository.AdminRepository, recorder *activity.Recorder, store cache.Store, cacheTTL time.Duration) *Service {
	return &Service{
		adminRepo: adminRepo,
		recorder:  recorder,
		cache:     store,
		cacheTTL:  cacheTTL,
	}
}

// requireAdmin はグローバル管理者であることを要求する。
func requireAdmin(actorRole model.Role) error {
	if actorRole != model.RoleAdmin {
		return model.NewForbiddenError()
	}
	return nil
}

// ListUsersWithTeams は全ユーザー（論理削除済みを含む）を所属一覧付きで返す。
func (s *Service) ListUsersWithTeams(ctx context.Context, actorRole model.Role) ([]*model.User, error) {
	if err := requireAdmin(actorRole); err != nil {
		return nil, err
	}
	users, err := s.adminRepo.ListUsersWithTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// ListTeamsWithMemberCounts は全チームをメンバー数・課金状態付きで返す。
func (s *Service) ListTeamsWithMemberCounts(ctx context.Context, actorRole model.Role) ([]*repository.TeamWithMemberCount, error) {
	if err := requireAdmin(actorRole); err != nil {
		return nil, err
	}
	teams, err := s.adminRepo.ListTeamsWithMemberCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("チーム一覧の取得に失敗しました: %w", err)
	}
	return teams, nil
}

// DashboardStats はダッシュボード統計を返す。
// 各集計は並行して実行され、結果は短いTTLでキャッシュされる。
func (s *Service) DashboardStats(ctx context.Context, actorRole model.Role) (*DashboardStats, error) {
	if err := requireAdmin(actorRole); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, dashboardCacheKey); ok {
			var stats DashboardStats
			if err := json.Unmarshal(raw, &stats); err == nil {
				return &stats, nil
			}
			// デコードできないキャッシュは捨てて再集計する
			s.cache.Delete(ctx, dashboardCacheKey)
		}
	}

	stats := &DashboardStats{GeneratedAt: time.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.adminRepo.CountActiveUsers(gctx)
		if err != nil {
			return fmt.Errorf("ユーザー数の集計に失敗しました: %w", err)
		}
		stats.TotalUsers = n
		return nil
	})
	g.Go(func() error {
		n, err := s.adminRepo.CountTeams(gctx)
		if err != nil {
			return fmt.Errorf("チーム数の集計に失敗しました: %w", err)
		}
		stats.TotalTeams = n
		return nil
	})
	g.Go(func() error {
		n, err := s.adminRepo.CountPendingInvitations(gctx)
		if err != nil {
			return fmt.Errorf("保留中招待数の集計に失敗しました: %w", err)
		}
		stats.PendingInvitations = n
		return nil
	})
	g.Go(func() error {
		n, err := s.adminRepo.CountActivitiesSince(gctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			return fmt.Errorf("アクティビティ数の集計に失敗しました: %w", err)
		}
		stats.ActivitiesLast24h = n
		return nil
	})
	g.Go(func() error {
		users, err := s.adminRepo.ListRecentUsers(gctx, recentUsersLimit)
		if err != nil {
			return fmt.Errorf("直近登録ユーザーの取得に失敗しました: %w", err)
		}
		stats.RecentUsers = users
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		raw, err := json.Marshal(stats)
		if err != nil {
			slog.Warn("ダッシュボード統計のエンコードに失敗しました", slog.String("error", err.Error()))
		} else {
			s.cache.Set(ctx, dashboardCacheKey, raw, s.cacheTTL)
		}
	}

	return stats, nil
}

// RecentActivity は全体のアクティビティログを新しい順に返す。
func (s *Service) RecentActivity(ctx context.Context, actorRole model.Role, limit int) ([]*model.ActivityLog, error) {
	if err := requireAdmin(actorRole); err != nil {
		return nil, err
	}
	return s.recorder.ListRecent(ctx, limit)
}
