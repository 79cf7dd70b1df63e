package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/teamman/internal/model"
)

// activityColumns はアクティビティログ行の取得カラム。
const activityColumns = `id, team_id, user_id, action, ip_address,
	user_name, user_email, team_name, metadata, created_at`

// PostgresActivityRepo はPostgreSQLを使用したアクティビティログリポジトリ。
// 行は追記専用であり、更新・削除のメソッドは持たない
// （保持期間超過の削除は保持ワーカーが直接行う）。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// scanActivityLog は1行をmodel.ActivityLogに読み取る。
func scanActivityLog(row rowScanner, log *model.ActivityLog) error {
	var teamID, userID, ipAddress, userName, userEmail, teamName sql.NullString
	var metadata []byte

	err := row.Scan(
		&log.ID, &teamID, &userID, &log.Action, &ipAddress,
		&userName, &userEmail, &teamName, &metadata, &log.CreatedAt,
	)
	if err != nil {
		return err
	}

	if teamID.Valid {
		log.TeamID = &teamID.String
	}
	if userID.Valid {
		log.UserID = &userID.String
	}
	log.IPAddress = ipAddress.String
	log.UserName = userName.String
	log.UserEmail = userEmail.String
	log.TeamName = teamName.String
	if len(metadata) > 0 {
		log.Metadata = metadata
	}
	return nil
}

// Insert はログ行を1件追記する。
func (r *PostgresActivityRepo) Insert(ctx context.Context, log *model.ActivityLog) error {
	var metadata interface{}
	if len(log.Metadata) > 0 {
		metadata = []byte(log.Metadata)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_logs (id, team_id, user_id, action, ip_address,
		   user_name, user_email, team_name, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		log.ID, log.TeamID, log.UserID, log.Action, log.IPAddress,
		log.UserName, log.UserEmail, log.TeamName, metadata, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("アクティビティログの追記に失敗しました: %w", err)
	}
	return nil
}

// list は条件付きでログを新しい順に取得する共通実装。
func (r *PostgresActivityRepo) list(ctx context.Context, query string, args ...interface{}) ([]*model.ActivityLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("アクティビティログの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	logs := []*model.ActivityLog{}
	for rows.Next() {
		log := &model.ActivityLog{}
		if err := scanActivityLog(rows, log); err != nil {
			return nil, fmt.Errorf("アクティビティログ行の読み取りに失敗しました: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アクティビティログの走査に失敗しました: %w", err)
	}

	return logs, nil
}

// ListByTeam はチームのログを新しい順に返す。
func (r *PostgresActivityRepo) ListByTeam(ctx context.Context, teamID string, limit int) ([]*model.ActivityLog, error) {
	return r.list(ctx,
		`SELECT `+activityColumns+` FROM activity_logs
		 WHERE team_id = $1 ORDER BY created_at DESC LIMIT $2`,
		teamID, limit,
	)
}

// ListByUser はユーザーのログを新しい順に返す。
func (r *PostgresActivityRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.ActivityLog, error) {
	return r.list(ctx,
		`SELECT `+activityColumns+` FROM activity_logs
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
}

// ListRecent は全体のログを新しい順に返す。管理画面のフィード用。
func (r *PostgresActivityRepo) ListRecent(ctx context.Context, limit int) ([]*model.ActivityLog, error) {
	return r.list(ctx,
		`SELECT `+activityColumns+` FROM activity_logs
		 ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
}

// compile-time interface check
var _ ActivityLogRepository = (*PostgresActivityRepo)(nil)
