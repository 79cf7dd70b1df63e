// Package model はドメインモデルを定義する。
package model

import "time"

// InvitationTTL は保留中の招待が自動的に期限切れになるまでの期間。
const InvitationTTL = 7 * 24 * time.Hour

// InvitationStatus は招待の状態を表す。
// pending から accepted / declined / expired への遷移のみが許され、
// pending 以外の状態は終端であり二度と変化しない。
type InvitationStatus string

const (
	// InvitationStatusPending は返答待ちの招待。
	InvitationStatusPending InvitationStatus = "pending"
	// InvitationStatusAccepted は承諾された招待（終端）。
	InvitationStatusAccepted InvitationStatus = "accepted"
	// InvitationStatusDeclined は辞退された招待（終端）。
	InvitationStatusDeclined InvitationStatus = "declined"
	// InvitationStatusExpired は期限切れの招待（終端）。
	InvitationStatusExpired InvitationStatus = "expired"
)

// IsTerminal は終端状態（pending以外）かどうかを返す。
func (s InvitationStatus) IsTerminal() bool {
	return s != InvitationStatusPending
}

// Invitation はチームへの招待を表す一時的な集約。
// TeamName / InviterName / InviterEmail は招待作成時点のスナップショットで、
// 作成後にチーム名や招待者情報が変わっても更新されない（凍結された履歴）。
// 同一の (Email, TeamID) に対する pending の招待は高々1件。
type Invitation struct {
	ID           string
	TeamID       string
	Email        string
	Role         Role
	InvitedBy    string
	Status       InvitationStatus
	TeamName     string
	InviterName  string
	InviterEmail string
	ResolvedAt   *time.Time
	CreatedAt    time.Time
}

// ExpiredAt は指定時刻において期限切れとみなすべきかどうかを返す。
// スイープ前の保留中招待も受諾時にはこの判定で拒否しなければならない。
func (i *Invitation) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return i.Status == InvitationStatusPending && now.Sub(i.CreatedAt) > ttl
}
