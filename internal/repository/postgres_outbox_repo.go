package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/teamman/internal/model"
	"github.com/lib/pq"
)

// PostgresOutboxRepo はPostgreSQLを使用したプロフィール伝播outboxリポジトリ。
// タスクの登録はUserRepository.UpdateProfileのトランザクション内で行われるため、
// このリポジトリはクレームと完了記録のみを担う。
type PostgresOutboxRepo struct {
	db *sql.DB
}

// NewPostgresOutboxRepo はPostgresOutboxRepoを生成する。
func NewPostgresOutboxRepo(db *sql.DB) *PostgresOutboxRepo {
	return &PostgresOutboxRepo{db: db}
}

// ClaimPending は未処理タスクを古い順に最大limit件クレームして返す。
// クレームは試行回数の加算を伴う単一文で行い、FOR UPDATE SKIP LOCKEDにより
// 並行するワーカーと同じタスクを取り合わない。
// attemptsがmaxAttemptsに達したタスクは二度と返さない（諦めた痕跡は行として残る）。
func (r *PostgresOutboxRepo) ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*model.ProfileSyncTask, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE profile_sync_outbox SET attempts = attempts + 1
		 WHERE id IN (
		   SELECT id FROM profile_sync_outbox
		   WHERE processed_at IS NULL AND attempts < $2
		   ORDER BY created_at
		   LIMIT $1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, user_id, name, email, team_ids, attempts, processed_at, created_at`,
		limit, maxAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("伝播タスクのクレームに失敗しました: %w", err)
	}
	defer rows.Close()

	tasks := []*model.ProfileSyncTask{}
	for rows.Next() {
		task := &model.ProfileSyncTask{}
		var processedAt sql.NullTime
		err := rows.Scan(
			&task.ID, &task.UserID, &task.Name, &task.Email,
			pq.Array(&task.TeamIDs), &task.Attempts, &processedAt, &task.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("伝播タスク行の読み取りに失敗しました: %w", err)
		}
		if processedAt.Valid {
			task.ProcessedAt = &processedAt.Time
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("伝播タスクの走査に失敗しました: %w", err)
	}

	return tasks, nil
}

// MarkProcessed はタスクを処理済みにする。
func (r *PostgresOutboxRepo) MarkProcessed(ctx context.Context, taskID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profile_sync_outbox SET processed_at = now() WHERE id = $1`,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("伝播タスクの完了記録に失敗しました: %w", err)
	}
	return nil
}

// CountPending は未処理タスク数を返す。滞留監視のゲージに使用する。
func (r *PostgresOutboxRepo) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM profile_sync_outbox WHERE processed_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未処理タスク数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ OutboxRepository = (*PostgresOutboxRepo)(nil)
