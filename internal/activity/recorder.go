// Package activity はアクティビティログ（監査証跡）の記録と参照を提供する。
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/teamman/internal/model"
	"github.com/hitoshi/teamman/internal/repository"
)

// defaultListLimit は参照APIの既定の取得件数。
const defaultListLimit = 50

// maxListLimit は参照APIの最大取得件数。
const maxListLimit = 200

// Entry は記録依頼を表す。
// UserName / UserEmail / TeamName は記録時点のスナップショットとして
// 呼び出し側が解決済みの値を渡す（ログ行は後から書き換えない）。
type Entry struct {
	TeamID    *string
	UserID    *string
	Action    string
	IPAddress string
	UserName  string
	UserEmail string
	TeamName  string
	Metadata  map[string]any
}

// FailureCounter は書き込み失敗の観測インターフェース。
// 失敗はエラーとして呼び出し元に返さないため、観測はこのカウンタ経由で行う。
type FailureCounter interface {
	RecordActivityLogFailure()
}

// Recorder はアクティビティログのサービス層。
// 記録はベストエフォートであり、失敗しても主たる操作を失敗させない。
type Recorder struct {
	repo    repository.ActivityLogRepository
	metrics FailureCounter
}

// NewRecorder はRecorderの新しいインスタンスを生成する。
func NewRecorder(repo repository.ActivityLogRepository, collector FailureCounter) *Recorder {
	return &Recorder{repo: repo, metrics: collector}
}

// Record はログ行を1件追記する。
// 書き込み失敗はエラーログとメトリクスで観測するだけで、呼び出し元には返さない。
// 監査ログの失敗でメンバー追加やプロフィール更新を失敗させないこと。
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	log := &model.ActivityLog{
		ID:        uuid.New().String(),
		TeamID:    entry.TeamID,
		UserID:    entry.UserID,
		Action:    entry.Action,
		IPAddress: entry.IPAddress,
		UserName:  entry.UserName,
		UserEmail: entry.UserEmail,
		TeamName:  entry.TeamName,
		CreatedAt: time.Now(),
	}

	if entry.Metadata != nil {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			slog.Error("アクティビティログのメタデータ変換に失敗しました",
				slog.String("action", entry.Action),
				slog.String("error", err.Error()),
			)
		} else {
			log.Metadata = raw
		}
	}

	if err := r.repo.Insert(ctx, log); err != nil {
		slog.Error("アクティビティログの書き込みに失敗しました",
			slog.String("action", entry.Action),
			slog.String("error", err.Error()),
		)
		if r.metrics != nil {
			r.metrics.RecordActivityLogFailure()
		}
	}
}

// ListByTeam はチームのログを新しい順に返す。
func (r *Recorder) ListByTeam(ctx context.Context, teamID string, limit int) ([]*model.ActivityLog, error) {
	logs, err := r.repo.ListByTeam(ctx, teamID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("チームのアクティビティログ取得に失敗しました: %w", err)
	}
	return logs, nil
}

// ListByUser はユーザーのログを新しい順に返す。
func (r *Recorder) ListByUser(ctx context.Context, userID string, limit int) ([]*model.ActivityLog, error) {
	logs, err := r.repo.ListByUser(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("ユーザーのアクティビティログ取得に失敗しました: %w", err)
	}
	return logs, nil
}

// ListRecent は全体のログを新しい順に返す。管理画面向け。
func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]*model.ActivityLog, error) {
	logs, err := r.repo.ListRecent(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("アクティビティログ取得に失敗しました: %w", err)
	}
	return logs, nil
}

// clampLimit は取得件数を既定値と上限の範囲に収める。
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
