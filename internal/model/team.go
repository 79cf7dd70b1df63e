// Package model はドメインモデルを定義する。
package model

import "time"

// MaxMembersPerTeam は1チームに所属できるメンバー数の上限。
const MaxMembersPerTeam = 100

// SubscriptionStatus はチームの課金サブスクリプション状態を表す。
type SubscriptionStatus string

const (
	// SubscriptionStatusTrialing はトライアル期間中。
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	// SubscriptionStatusActive は有効な契約状態。
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusCanceled は解約済み状態。
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	// SubscriptionStatusPastDue は支払い遅延状態。
	SubscriptionStatusPastDue SubscriptionStatus = "past_due"
	// SubscriptionStatusUnpaid は未払い状態。
	SubscriptionStatusUnpaid SubscriptionStatus = "unpaid"
)

// Valid はサブスクリプション状態として有効かどうかを返す。
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusCanceled,
		SubscriptionStatusPastDue, SubscriptionStatusUnpaid:
		return true
	}
	return false
}

// Team はテナント集約を表す。チーム名と課金情報の単一情報源。
// TeamMembers はこのチームから見たメンバー一覧の埋め込みコピーで、
// 変更はメンバーシップ整合性エンジン経由でのみ行う。
// 課金識別子（BillingCustomerID / BillingSubscriptionID）は設定時にグローバル一意。
type Team struct {
	ID                    string
	Name                  string
	TeamMembers           []Membership
	BillingCustomerID     *string
	BillingSubscriptionID *string
	BillingProductID      *string
	PlanName              *string
	SubscriptionStatus    *SubscriptionStatus
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// MemberFor は指定ユーザーの所属エントリを返す。存在しない場合はnil。
func (t *Team) MemberFor(userID string) *Membership {
	for i := range t.TeamMembers {
		if t.TeamMembers[i].UserID == userID {
			return &t.TeamMembers[i]
		}
	}
	return nil
}

// SubscriptionPatch はチーム課金情報のフィールド単位更新を表す。
// 各フィールドは省略（変更なし）・null指定（クリア）・値指定（上書き）の三状態を持つ。
// 課金Webhookが特定のフィールドだけをクリアする操作に必要な区別。
type SubscriptionPatch struct {
	CustomerID     OptionalString `json:"customerId"`
	SubscriptionID OptionalString `json:"subscriptionId"`
	ProductID      OptionalString `json:"productId"`
	PlanName       OptionalString `json:"planName"`
	Status         OptionalString `json:"status"`
}

// Empty はパッチが1フィールドも指定していないかどうかを返す。
func (p *SubscriptionPatch) Empty() bool {
	return !p.CustomerID.Set && !p.SubscriptionID.Set && !p.ProductID.Set &&
		!p.PlanName.Set && !p.Status.Set
}
