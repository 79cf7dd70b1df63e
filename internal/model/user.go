// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限を表す。
// グローバルロール（User.Role）とチーム内ロール（Membership.Role）の両方で使用する。
// admin はグローバルロールとしてのみ有効。
type Role string

const (
	// RoleMember は一般メンバー権限。
	RoleMember Role = "member"
	// RoleOwner はチームオーナー権限。
	RoleOwner Role = "owner"
	// RoleAdmin はシステム管理者権限（グローバルのみ）。
	RoleAdmin Role = "admin"
)

// ValidGlobalRole はグローバルロールとして有効かどうかを返す。
func (r Role) ValidGlobalRole() bool {
	return r == RoleMember || r == RoleOwner || r == RoleAdmin
}

// ValidMembershipRole はチーム内ロールとして有効かどうかを返す。
func (r Role) ValidMembershipRole() bool {
	return r == RoleMember || r == RoleOwner
}

// MaxTeamMembershipsPerUser は1ユーザーが所属できるチーム数の上限。
const MaxTeamMembershipsPerUser = 50

// Membership は「ユーザーXがチームYにロールRで時刻Tから所属している」関係を表す。
// User.TeamMemberships と Team.TeamMembers の両方に埋め込まれ、
// 両側のコピーは {UserID, TeamID, Role} について常に一致しなければならない。
// UserName / UserEmail は書き込み時点のユーザー表示情報の非正規化コピー。
type Membership struct {
	UserID    string    `json:"userId"`
	TeamID    string    `json:"teamId"`
	Role      Role      `json:"role"`
	JoinedAt  time.Time `json:"joinedAt"`
	UserName  string    `json:"userName"`
	UserEmail string    `json:"userEmail"`
}

// User はサービス利用ユーザーを表す。アイデンティティ集約の単一情報源。
// TeamMemberships はこのユーザーから見た所属チーム一覧の埋め込みコピーで、
// 変更はメンバーシップ整合性エンジン経由でのみ行う。
type User struct {
	ID              string
	Name            string
	Email           string
	PasswordHash    string // 既定の読み取りでは取得されない
	Role            Role
	TeamMemberships []Membership
	DeletedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsDeleted は論理削除済みかどうかを返す。
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// MembershipFor は指定チームに対する所属エントリを返す。存在しない場合はnil。
func (u *User) MembershipFor(teamID string) *Membership {
	for i := range u.TeamMemberships {
		if u.TeamMemberships[i].TeamID == teamID {
			return &u.TeamMemberships[i]
		}
	}
	return nil
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
