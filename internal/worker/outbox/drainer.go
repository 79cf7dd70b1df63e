// Package outbox はプロフィール編集のチーム側コピーへの伝播を処理するワーカーを提供する。
// アイデンティティ更新時に登録されたタスクをクレームし、各チームの埋め込み一覧を
// 最新の名前・メールアドレスで更新する。処理はat-least-onceであり、
// 各チームの更新は冪等なので重複適用しても結果は変わらない。
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/teamman/internal/repository"
)

// defaultBatchSize は1サイクルでクレームするタスク数の既定値。
const defaultBatchSize = 50

// defaultMaxAttempts はタスクを諦めるまでの試行回数の既定値。
const defaultMaxAttempts = 5

// SyncCollector はプロフィール伝播のメトリクスを記録するインターフェース。
type SyncCollector interface {
	RecordProfileSyncProcessed(success bool)
	SetProfileSyncPending(count int)
}

// TeamCopyRefresher はチーム側の埋め込み一覧内のユーザー情報を更新するインターフェース。
// repository.MembershipRepository がこれを満たす。
type TeamCopyRefresher interface {
	RefreshTeamCopies(ctx context.Context, teamID, userID, name, email string) (int, error)
}

// Drainer はプロフィール伝播outboxの処理ワーカー。
// 定期的に未処理タスクをクレームし、ファンアウト先チームの
// 非正規化コピーを更新して処理済みにする。
type Drainer struct {
	outboxRepo repository.OutboxRepository
	memberRepo TeamCopyRefresher
	logger     *slog.Logger
	metrics    SyncCollector

	BatchSize   int // 1サイクルのクレーム件数（デフォルト: 50）
	MaxAttempts int // 最大試行回数（デフォルト: 5）
}

// NewDrainer はDrainerの新しいインスタンスを生成する。metricsはnilでもよい。
func NewDrainer(
	outboxRepo repository.OutboxRepository,
	memberRepo TeamCopyRefresher,
	logger *slog.Logger,
	metrics SyncCollector,
) *Drainer {
	return &Drainer{
		outboxRepo:  outboxRepo,
		memberRepo:  memberRepo,
		logger:      logger,
		metrics:     metrics,
		BatchSize:   defaultBatchSize,
		MaxAttempts: defaultMaxAttempts,
	}
}

// Start は指定間隔のティッカーでワーカーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (d *Drainer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("プロフィール伝播ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", d.BatchSize),
		slog.Int("max_attempts", d.MaxAttempts),
	)

	// 起動直後に1回実行
	if err := d.RunOnce(ctx); err != nil {
		d.logger.Error("伝播サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("プロフィール伝播ワーカーを停止しました")
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Error("伝播サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は未処理タスクを1バッチ分クレームして処理する。
// 途中で失敗したタスクは未処理のまま残り、次回以降のサイクルで
// 再試行される（試行回数はクレーム時に加算済み）。
func (d *Drainer) RunOnce(ctx context.Context) error {
	start := time.Now()

	tasks, err := d.outboxRepo.ClaimPending(ctx, d.BatchSize, d.MaxAttempts)
	if err != nil {
		return err
	}

	processed := 0
	failed := 0
	for _, task := range tasks {
		if err := d.processTask(ctx, task.ID, task.UserID, task.Name, task.Email, task.TeamIDs, task.Attempts); err != nil {
			failed++
			continue
		}
		processed++
	}

	d.updatePendingGauge(ctx)

	if len(tasks) > 0 {
		duration := time.Since(start)
		d.logger.Info("伝播サイクルが完了しました",
			slog.Int("processed", processed),
			slog.Int("failed", failed),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	}

	return nil
}

// processTask は1タスク分のファンアウトを適用して処理済みにする。
// 一部のチームだけ更新された状態で失敗しても、更新は冪等なので
// 再試行時の重複適用は安全。
func (d *Drainer) processTask(ctx context.Context, taskID, userID, name, email string, teamIDs []string, attempts int) error {
	for _, teamID := range teamIDs {
		if _, err := d.memberRepo.RefreshTeamCopies(ctx, teamID, userID, name, email); err != nil {
			d.logger.Error("チーム側コピーの更新に失敗しました",
				slog.String("task_id", taskID),
				slog.String("user_id", userID),
				slog.String("team_id", teamID),
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()),
			)
			if attempts >= d.MaxAttempts {
				d.logger.Error("伝播タスクの試行回数が上限に達しました。以後再試行されません",
					slog.String("task_id", taskID),
					slog.String("user_id", userID),
				)
			}
			if d.metrics != nil {
				d.metrics.RecordProfileSyncProcessed(false)
			}
			return err
		}
	}

	if err := d.outboxRepo.MarkProcessed(ctx, taskID); err != nil {
		d.logger.Error("伝播タスクの完了記録に失敗しました",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		if d.metrics != nil {
			d.metrics.RecordProfileSyncProcessed(false)
		}
		return err
	}

	if d.metrics != nil {
		d.metrics.RecordProfileSyncProcessed(true)
	}
	return nil
}

// updatePendingGauge は未処理タスク数のゲージを更新する。失敗しても処理は続行する。
func (d *Drainer) updatePendingGauge(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	count, err := d.outboxRepo.CountPending(ctx)
	if err != nil {
		d.logger.Warn("未処理タスク数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	d.metrics.SetProfileSyncPending(count)
}
