// Package model はドメインモデルを定義する。
package model

import "time"

// ProfileSyncTask はプロフィール編集をチーム側の非正規化コピーへ伝播させる
// outboxタスクを表す。アイデンティティ更新と同一トランザクションで登録され、
// ワーカーがat-least-onceで処理する。
// TeamIDs は編集前のメンバーシップ一覧から取得したファンアウト先の集合。
type ProfileSyncTask struct {
	ID          string
	UserID      string
	Name        string
	Email       string
	TeamIDs     []string
	Attempts    int
	ProcessedAt *time.Time
	CreatedAt   time.Time
}
