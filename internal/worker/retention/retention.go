// Package retention は時間経過で不要になったデータの定期削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過したアクティビティログの削除、
// TTL（デフォルト7日）を超過した保留中招待の期限切れ処理、
// 期限切れセッションの削除を日次バッチで行う。
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TransitionCollector は招待の状態遷移メトリクスを記録するインターフェース。
type TransitionCollector interface {
	RecordInvitationTransition(status string)
}

// Job は保持期間を超過したデータの定期削除ジョブ。
// 日次実行のバッチジョブとして設計されており、すべての処理は冪等。
type Job struct {
	db      Executor
	logger  *slog.Logger
	metrics TransitionCollector

	ActivityRetention time.Duration // アクティビティログの保持期間（デフォルト: 90日）
	InvitationTTL     time.Duration // 保留中招待の有効期間（デフォルト: 7日）
}

// NewJob は新しいJobを生成する。metricsはnilでもよい。
func NewJob(db Executor, logger *slog.Logger, metrics TransitionCollector) *Job {
	return &Job{
		db:                db,
		logger:            logger,
		metrics:           metrics,
		ActivityRetention: 90 * 24 * time.Hour,
		InvitationTTL:     7 * 24 * time.Hour,
	}
}

// Start は指定間隔のティッカーでジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("保持期間ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("activity_retention", j.ActivityRetention),
		slog.Duration("invitation_ttl", j.InvitationTTL),
	)

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil {
		j.logger.Error("保持期間ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("保持期間ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("保持期間ジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Run は保持期間を超過したデータを1回分処理する。
// ログ削除・招待期限切れ・セッション削除の3処理は独立しており、
// 先行処理の失敗は後続処理を妨げない（エラーは最初のものを返す）。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	var firstErr error

	purged, err := j.purgeActivityLogs(ctx)
	if err != nil {
		firstErr = err
	}

	expired, err := j.expireInvitations(ctx)
	if err != nil && firstErr == nil {
		firstErr = err
	}

	sessions, err := j.deleteExpiredSessions(ctx)
	if err != nil && firstErr == nil {
		firstErr = err
	}

	duration := time.Since(start)
	j.logger.Info("保持期間ジョブが完了しました",
		slog.Int64("purged_activity_logs", purged),
		slog.Int64("expired_invitations", expired),
		slog.Int64("deleted_sessions", sessions),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return firstErr
}

// purgeActivityLogs は保持期間を超過したアクティビティログを削除する。
func (j *Job) purgeActivityLogs(ctx context.Context) (int64, error) {
	interval := intervalString(j.ActivityRetention)

	query := `DELETE FROM activity_logs WHERE created_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("アクティビティログの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.String("retention", interval),
		)
		return 0, fmt.Errorf("アクティビティログの削除に失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}

// expireInvitations はTTLを超過した保留中の招待を期限切れにする。
// 期限切れは受諾・辞退と同じ終端状態であり、以後の操作は拒否される。
func (j *Job) expireInvitations(ctx context.Context) (int64, error) {
	interval := intervalString(j.InvitationTTL)

	query := `
		UPDATE invitations
		SET status = 'expired', resolved_at = now()
		WHERE status = 'pending' AND created_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("招待の期限切れ処理に失敗しました",
			slog.String("error", err.Error()),
			slog.String("ttl", interval),
		)
		return 0, fmt.Errorf("招待の期限切れ処理に失敗: %w", err)
	}

	expired, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	if j.metrics != nil {
		for i := int64(0); i < expired; i++ {
			j.metrics.RecordInvitationTransition("expired")
		}
	}
	return expired, nil
}

// deleteExpiredSessions は有効期限を過ぎたセッションを削除する。
func (j *Job) deleteExpiredSessions(ctx context.Context) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < now()`
	result, err := j.db.ExecContext(ctx, query)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}

// intervalString はtime.DurationをPostgreSQLのinterval文字列に変換する。
func intervalString(d time.Duration) string {
	hours := int(d.Hours())
	if hours > 0 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%d hours", hours)
}
