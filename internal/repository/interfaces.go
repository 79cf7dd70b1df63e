// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/teamman/internal/model"
)

// UserRepository はユーザー（アイデンティティ集約）の永続化インターフェース。
// 特記のない限り、読み取りは論理削除済みユーザーを除外する。
type UserRepository interface {
	// FindByID は指定IDの有効なユーザーを取得する。見つからない場合はnilを返す。
	// 認証情報（パスワードハッシュ）は取得しない。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスで有効なユーザーを検索する。見つからない場合はnilを返す。
	// includeCredentialがtrueの場合のみパスワードハッシュを取得する。
	FindByEmail(ctx context.Context, email string, includeCredential bool) (*model.User, error)

	// Create はユーザーを作成する。
	// 有効なユーザー間でのメールアドレス重複は部分一意インデックスで検出され、
	// DuplicateEmailエラーに変換される。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile は表示名・メールアドレスを部分更新する。nilのフィールドは変更しない。
	// 同一トランザクションで、ユーザー自身の埋め込みメンバーシップ一覧内の
	// 非正規化コピーを更新し、チーム側コピーへの伝播タスクをoutboxに登録する。
	// ファンアウト先のチーム一覧は編集前のメンバーシップ一覧から取得する。
	UpdateProfile(ctx context.Context, id string, name, email *string) (*model.User, error)

	// UpdateRole はグローバルロールを更新する。メンバーシップには影響しない。
	UpdateRole(ctx context.Context, id string, role model.Role) (*model.User, error)

	// SoftDelete はdeleted_atを設定して論理削除する。冪等であり、
	// 既に削除済みの場合も成功する。メンバーシップエントリは取り除かない。
	SoftDelete(ctx context.Context, id string) error
}

// TeamRepository はチーム（テナント集約）の永続化インターフェース。
type TeamRepository interface {
	// Create はチームを作成する。メンバー一覧は空、課金情報はなし。
	Create(ctx context.Context, team *model.Team) error

	// FindByID は指定IDのチームを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Team, error)

	// FindByIDs は指定ID群のチームを取得する。存在しないIDは結果から除外される。
	FindByIDs(ctx context.Context, ids []string) ([]*model.Team, error)

	// Rename はチーム名のみを更新する。過去に書き込まれた招待・アクティビティログ内の
	// チーム名スナップショットには触れない。
	Rename(ctx context.Context, id, name string) (*model.Team, error)

	// UpdateSubscription は課金情報をフィールド単位で冪等に更新する。
	// パッチで省略されたフィールドは変更せず、nullが指定されたフィールドはクリアする。
	// 課金識別子の一意性違反はConstraintViolationエラーに変換される。
	UpdateSubscription(ctx context.Context, id string, patch model.SubscriptionPatch) (*model.Team, error)

	// FindByCustomerID は課金顧客IDでチームを検索する。見つからない場合はnilを返す。
	// 部分一意インデックスによりO(1)で解決される。
	FindByCustomerID(ctx context.Context, customerID string) (*model.Team, error)

	// Delete はチームを物理削除し、削除したチームを返す。見つからない場合はnilを返す。
	// メンバーのユーザー側エントリの掃除は呼び出し側の責務（ベストエフォート）。
	Delete(ctx context.Context, id string) (*model.Team, error)
}

// MemberChange はメンバーシップ変更操作の結果を表す。
type MemberChange struct {
	// Added は新規追加（true）か既存エントリの上書き（false）か。
	Added bool
	// Repaired は片側欠落の修復が発生したかどうか。
	Repaired bool
	// Entry は適用後のメンバーシップエントリ。
	Entry model.Membership
}

// MembershipRepository は双方向埋め込みメンバーシップの永続化インターフェース。
// 両側の一覧を変更する操作は、ユーザー行→チーム行の順で行ロックを取得する
// 単一トランザクションとして実行され、失敗時はどちらの側も変更されない。
type MembershipRepository interface {
	// AddMember は (userID, teamID) のメンバーシップを両側に冪等にUPSERTする。
	// 片側にのみ存在する場合は欠けている側を書き込んで修復する。
	// userName / userEmail が空の場合はロック済みユーザー行の現在値を使用する。
	AddMember(ctx context.Context, teamID, userID string, role model.Role, userName, userEmail string) (*MemberChange, error)

	// RemoveMember は (userID, teamID) のメンバーシップを両側から取り除く。
	// 片側または両側に存在しない場合も成功する（冪等）。
	// チーム行自体が存在しない場合はユーザー側のみ掃除して成功する。
	RemoveMember(ctx context.Context, teamID, userID string) (bool, error)

	// UpdateMemberRole は両側のロールを対称に更新する。
	// 存在判定はチーム側が権威であり、チーム側に不在の場合はMembershipNotFoundを返す。
	// ユーザー側に欠けているエントリは黙殺せず書き込む（修復として報告する）。
	UpdateMemberRole(ctx context.Context, teamID, userID string, role model.Role) (*MemberChange, error)

	// TeamRoleOf はチーム側（権威側）の一覧から指定ユーザーのロールを返す。
	// 所属していない場合は空文字列を返す。
	TeamRoleOf(ctx context.Context, teamID, userID string) (model.Role, error)

	// RefreshTeamCopies は1チームの埋め込み一覧内にある指定ユーザーの
	// 非正規化表示情報を更新する。プロフィール伝播のファンアウト単位。
	// チームが存在しない場合は0件更新の成功として扱う。
	RefreshTeamCopies(ctx context.Context, teamID, userID, name, email string) (int, error)

	// RemoveFromUserSide はユーザー側の一覧からのみエントリを取り除く。
	// チーム物理削除後の残骸掃除に使用する。冪等。
	RemoveFromUserSide(ctx context.Context, userID, teamID string) error
}

// InvitationRepository は招待の永続化インターフェース。
type InvitationRepository interface {
	// Create は招待を作成する。同一 (teamID, email) の保留中招待の重複は
	// 部分一意インデックスで検出され、DuplicateInvitationエラーに変換される。
	Create(ctx context.Context, inv *model.Invitation) error

	// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Invitation, error)

	// ListPendingByTeam はチームの保留中招待を作成日時降順で返す。
	ListPendingByTeam(ctx context.Context, teamID string) ([]*model.Invitation, error)

	// ListPendingByEmail はメールアドレス宛の保留中招待を返す。
	ListPendingByEmail(ctx context.Context, email string) ([]*model.Invitation, error)

	// Accept は招待受諾を単一トランザクションで実行する:
	// 招待行をロックして保留中かつ期限内であることを検証し、
	// メンバーシップを両側に書き込み、招待をacceptedに更新する。
	// メンバーシップの書き込みに失敗した場合は全体がロールバックされ、招待は保留中のまま残る。
	// 期限超過の保留中招待はexpiredに更新した上でInvitationAlreadyResolvedを返す。
	Accept(ctx context.Context, invitationID, userID string, ttl time.Duration) (*model.Invitation, *MemberChange, error)

	// Decline は招待を辞退する。検証はAcceptと同一で、メンバーシップには触れない。
	Decline(ctx context.Context, invitationID string, ttl time.Duration) (*model.Invitation, error)
}

// ActivityLogRepository はアクティビティログの永続化インターフェース。
// 行は追記専用であり、更新・削除の操作は提供しない（保持期間超過の削除はワーカーが行う）。
type ActivityLogRepository interface {
	// Insert はログ行を1件追記する。
	Insert(ctx context.Context, log *model.ActivityLog) error

	// ListByTeam はチームのログを新しい順に返す。
	ListByTeam(ctx context.Context, teamID string, limit int) ([]*model.ActivityLog, error)

	// ListByUser はユーザーのログを新しい順に返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.ActivityLog, error)

	// ListRecent は全体のログを新しい順に返す。
	ListRecent(ctx context.Context, limit int) ([]*model.ActivityLog, error)
}

// OutboxRepository はプロフィール伝播タスクの永続化インターフェース。
// タスクの登録はUserRepository.UpdateProfileのトランザクション内で行われる。
type OutboxRepository interface {
	// ClaimPending は未処理タスクを古い順に最大limit件クレームして返す。
	// クレームは試行回数の加算を伴う単一文で行われ、FOR UPDATE SKIP LOCKEDにより
	// 並行するワーカーと同じタスクを取り合わない。
	// attemptsがmaxAttemptsに達したタスクは返さない。
	ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*model.ProfileSyncTask, error)

	// MarkProcessed はタスクを処理済みにする。
	MarkProcessed(ctx context.Context, taskID string) error

	// CountPending は未処理タスク数を返す。
	CountPending(ctx context.Context) (int, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// TeamWithMemberCount はチームとメンバー数・課金状態を結合した管理画面向け行。
type TeamWithMemberCount struct {
	model.Team
	MemberCount int
}

// AdminRepository は管理画面向けの読み取り専用プロジェクションのインターフェース。
// 書き込みは一切行わず、非正規化コピーの一時的な不整合は解消せずそのまま返す。
type AdminRepository interface {
	// ListUsersWithTeams は全ユーザー（論理削除済みを含む）を
	// 埋め込みメンバーシップ一覧付きで返す。認証情報は取得しない。
	ListUsersWithTeams(ctx context.Context) ([]*model.User, error)

	// ListTeamsWithMemberCounts は全チームをメンバー数付きで返す。
	ListTeamsWithMemberCounts(ctx context.Context) ([]*TeamWithMemberCount, error)

	// CountActiveUsers は有効なユーザー数を返す。
	CountActiveUsers(ctx context.Context) (int, error)

	// CountTeams はチーム数を返す。
	CountTeams(ctx context.Context) (int, error)

	// CountPendingInvitations は保留中の招待数を返す。
	CountPendingInvitations(ctx context.Context) (int, error)

	// CountActivitiesSince は指定時刻以降のアクティビティ数を返す。
	CountActivitiesSince(ctx context.Context, since time.Time) (int, error)

	// ListRecentUsers は直近に登録された有効なユーザーを返す。
	ListRecentUsers(ctx context.Context, limit int) ([]*model.User, error)
}
