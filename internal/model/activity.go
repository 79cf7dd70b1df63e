// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// ActivityLogRetention はアクティビティログの保持期間。これより古い行は自動削除される。
const ActivityLogRetention = 90 * 24 * time.Hour

// 定義済みアクティビティ種別。Actionには自由形式の文字列も許容される。
const (
	ActivitySignUp             = "SIGN_UP"
	ActivitySignIn             = "SIGN_IN"
	ActivitySignOut            = "SIGN_OUT"
	ActivityCreateTeam         = "CREATE_TEAM"
	ActivityRenameTeam         = "RENAME_TEAM"
	ActivityInviteMember       = "INVITE_MEMBER"
	ActivityAcceptInvitation   = "ACCEPT_INVITATION"
	ActivityDeclineInvitation  = "DECLINE_INVITATION"
	ActivityAddMember          = "ADD_MEMBER"
	ActivityRemoveMember       = "REMOVE_MEMBER"
	ActivityChangeMemberRole   = "CHANGE_MEMBER_ROLE"
	ActivityUpdateProfile      = "UPDATE_PROFILE"
	ActivityUpdateSubscription = "UPDATE_SUBSCRIPTION"
	ActivityDeleteTeam         = "DELETE_TEAM"
	ActivityDeleteAccount      = "DELETE_ACCOUNT"
)

// ActivityLog は追記専用の監査ログ行を表す。
// 書き込み後は不変であり、アプリケーションロジックからは更新も削除もされない
// （保持期間超過による自動削除のみ）。
// UserName / UserEmail / TeamName は記録時点の非正規化スナップショット。
type ActivityLog struct {
	ID        string
	TeamID    *string
	UserID    *string
	Action    string
	IPAddress string
	UserName  string
	UserEmail string
	TeamName  string
	Metadata  json.RawMessage
	CreatedAt time.Time
}
