package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/teamman/internal/model"
)

// PostgresAdminRepo は管理画面向けの読み取り専用プロジェクション。
// 書き込みは一切行わず、非正規化コピーの一時的な不整合も解消せずそのまま返す
// （修復は書き込み経路の責務）。
type PostgresAdminRepo struct {
	db *sql.DB
}

// NewPostgresAdminRepo はPostgresAdminRepoを生成する。
func NewPostgresAdminRepo(db *sql.DB) *PostgresAdminRepo {
	return &PostgresAdminRepo{db: db}
}

// ListUsersWithTeams は全ユーザー（論理削除済みを含む）を
// 埋め込みメンバーシップ一覧付きで登録日時降順に返す。認証情報は取得しない。
func (r *PostgresAdminRepo) ListUsersWithTeams(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	users := []*model.User{}
	for rows.Next() {
		user := &model.User{}
		if err := scanUser(rows, user, false); err != nil {
			return nil, fmt.Errorf("ユーザー行の読み取りに失敗しました: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ユーザー一覧の走査に失敗しました: %w", err)
	}

	return users, nil
}

// ListTeamsWithMemberCounts は全チームをメンバー数付きで作成日時降順に返す。
// メンバー数は埋め込み一覧のjsonb_array_lengthで数える（別テーブルの結合は不要）。
func (r *PostgresAdminRepo) ListTeamsWithMemberCounts(ctx context.Context) ([]*TeamWithMemberCount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+teamColumns+`, jsonb_array_length(team_members)
		 FROM teams ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("チーム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	teams := []*TeamWithMemberCount{}
	for rows.Next() {
		t := &TeamWithMemberCount{}
		var raw []byte
		var customerID, subscriptionID, productID, planName, status sql.NullString
		err := rows.Scan(
			&t.ID, &t.Name, &raw, &customerID, &subscriptionID,
			&productID, &planName, &status, &t.CreatedAt, &t.UpdatedAt,
			&t.MemberCount,
		)
		if err != nil {
			return nil, fmt.Errorf("チーム行の読み取りに失敗しました: %w", err)
		}
		if customerID.Valid {
			t.BillingCustomerID = &customerID.String
		}
		if subscriptionID.Valid {
			t.BillingSubscriptionID = &subscriptionID.String
		}
		if productID.Valid {
			t.BillingProductID = &productID.String
		}
		if planName.Valid {
			t.PlanName = &planName.String
		}
		if status.Valid {
			s := model.SubscriptionStatus(status.String)
			t.SubscriptionStatus = &s
		}
		t.TeamMembers, err = unmarshalMemberships(raw)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チーム一覧の走査に失敗しました: %w", err)
	}

	return teams, nil
}

// count は単一のcount(*)クエリを実行する共通実装。
func (r *PostgresAdminRepo) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// CountActiveUsers は有効なユーザー数を返す。
func (r *PostgresAdminRepo) CountActiveUsers(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT count(*) FROM users WHERE `+activeUserFilter)
}

// CountTeams はチーム数を返す。
func (r *PostgresAdminRepo) CountTeams(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT count(*) FROM teams`)
}

// CountPendingInvitations は保留中の招待数を返す。
func (r *PostgresAdminRepo) CountPendingInvitations(ctx context.Context) (int, error) {
	return r.count(ctx,
		`SELECT count(*) FROM invitations WHERE status = $1`,
		model.InvitationStatusPending,
	)
}

// CountActivitiesSince は指定時刻以降のアクティビティ数を返す。
func (r *PostgresAdminRepo) CountActivitiesSince(ctx context.Context, since time.Time) (int, error) {
	return r.count(ctx,
		`SELECT count(*) FROM activity_logs WHERE created_at >= $1`,
		since,
	)
}

// ListRecentUsers は直近に登録された有効なユーザーを返す。
func (r *PostgresAdminRepo) ListRecentUsers(ctx context.Context, limit int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+activeUserFilter+`
		 ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("新規ユーザー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	users := []*model.User{}
	for rows.Next() {
		user := &model.User{}
		if err := scanUser(rows, user, false); err != nil {
			return nil, fmt.Errorf("ユーザー行の読み取りに失敗しました: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("新規ユーザー一覧の走査に失敗しました: %w", err)
	}

	return users, nil
}

// compile-time interface check
var _ AdminRepository = (*PostgresAdminRepo)(nil)
