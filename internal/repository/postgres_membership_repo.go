package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	membership "github.com/hitoshi/teamman/internal/membership/engine"
	"github.com/hitoshi/teamman/internal/model"
)

// PostgresMembershipRepo はPostgreSQLを使用したメンバーシップリポジトリ。
// ユーザー・チーム双方に埋め込まれたメンバーシップ一覧を
// 単一トランザクション内の行ロック（ユーザー行→チーム行の順）で読み書きする。
type PostgresMembershipRepo struct {
	db *sql.DB
}

// NewPostgresMembershipRepo はPostgresMembershipRepoを生成する。
func NewPostgresMembershipRepo(db *sql.DB) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: db}
}

// lockedUser はFOR UPDATEで取得したユーザー行のトランザクション内スナップショット。
type lockedUser struct {
	id          string
	name        string
	email       string
	memberships []model.Membership
	deletedAt   *time.Time
}

// lockedTeam はFOR UPDATEで取得したチーム行のトランザクション内スナップショット。
type lockedTeam struct {
	id      string
	name    string
	members []model.Membership
}

// marshalMemberships はメンバーシップ一覧をJSONBカラム用に直列化する。
// 空の一覧はnullではなく空配列として書き込む。
func marshalMemberships(entries []model.Membership) ([]byte, error) {
	if entries == nil {
		entries = []model.Membership{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("メンバーシップ一覧の直列化に失敗しました: %w", err)
	}
	return data, nil
}

// unmarshalMemberships はJSONBカラムの値をメンバーシップ一覧に復元する。
func unmarshalMemberships(raw []byte) ([]model.Membership, error) {
	if len(raw) == 0 {
		return []model.Membership{}, nil
	}
	var entries []model.Membership
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("メンバーシップ一覧の復元に失敗しました: %w", err)
	}
	return entries, nil
}

// lockUserRow はユーザー行をFOR UPDATEでロックして取得する。
// 見つからない場合はnilを返す。includeDeletedがfalseの場合は論理削除済み行を除外する。
func lockUserRow(ctx context.Context, tx *sql.Tx, userID string, includeDeleted bool) (*lockedUser, error) {
	query := `SELECT id, name, email, team_memberships, deleted_at
	          FROM users WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	if includeDeleted {
		query = `SELECT id, name, email, team_memberships, deleted_at
		         FROM users WHERE id = $1 FOR UPDATE`
	}

	u := &lockedUser{}
	var raw []byte
	var deletedAt sql.NullTime
	err := tx.QueryRowContext(ctx, query, userID).Scan(&u.id, &u.name, &u.email, &raw, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザー行のロック取得に失敗しました: %w", err)
	}
	if deletedAt.Valid {
		u.deletedAt = &deletedAt.Time
	}

	u.memberships, err = unmarshalMemberships(raw)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// lockTeamRow はチーム行をFOR UPDATEでロックして取得する。見つからない場合はnilを返す。
func lockTeamRow(ctx context.Context, tx *sql.Tx, teamID string) (*lockedTeam, error) {
	t := &lockedTeam{}
	var raw []byte
	err := tx.QueryRowContext(ctx,
		`SELECT id, name, team_members FROM teams WHERE id = $1 FOR UPDATE`,
		teamID,
	).Scan(&t.id, &t.name, &raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チーム行のロック取得に失敗しました: %w", err)
	}

	t.members, err = unmarshalMemberships(raw)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// saveUserMemberships はユーザー側の埋め込み一覧を書き戻す。
func saveUserMemberships(ctx context.Context, tx *sql.Tx, userID string, entries []model.Membership) error {
	data, err := marshalMemberships(entries)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE users SET team_memberships = $2, updated_at = now() WHERE id = $1`,
		userID, data,
	)
	if err != nil {
		return fmt.Errorf("ユーザー側メンバーシップの書き込みに失敗しました: %w", err)
	}
	return nil
}

// saveTeamMembers はチーム側の埋め込み一覧を書き戻す。
func saveTeamMembers(ctx context.Context, tx *sql.Tx, teamID string, entries []model.Membership) error {
	data, err := marshalMemberships(entries)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE teams SET team_members = $2, updated_at = now() WHERE id = $1`,
		teamID, data,
	)
	if err != nil {
		return fmt.Errorf("チーム側メンバーシップの書き込みに失敗しました: %w", err)
	}
	return nil
}

// addMemberTx はメンバーシップUPSERTの本体。呼び出し側のトランザクション内で実行される。
// 招待受諾（PostgresInvitationRepo.Accept）も同じ本体を自身のトランザクションから呼ぶ。
func addMemberTx(ctx context.Context, tx *sql.Tx, teamID, userID string, role model.Role, userName, userEmail string, now time.Time) (*MemberChange, error) {
	u, err := lockUserRow(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, model.NewUserNotFoundError(userID)
	}

	t, err := lockTeamRow(ctx, tx, teamID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, model.NewTeamNotFoundError(teamID)
	}

	userHas := u.membershipFor(teamID) != nil
	teamHas := t.memberFor(userID) != nil

	if !userHas && len(u.memberships) >= model.MaxTeamMembershipsPerUser {
		return nil, model.NewConstraintViolationError(
			fmt.Sprintf("所属チーム数が上限（%d件）に達しています", model.MaxTeamMembershipsPerUser))
	}
	if !teamHas && len(t.members) >= model.MaxMembersPerTeam {
		return nil, model.NewConstraintViolationError(
			fmt.Sprintf("チームのメンバー数が上限（%d件）に達しています", model.MaxMembersPerTeam))
	}

	// スナップショット未指定の場合はロック済み行の現在値を使用する
	if userName == "" {
		userName = u.name
	}
	if userEmail == "" {
		userEmail = u.email
	}

	entry := model.Membership{
		UserID:    userID,
		TeamID:    teamID,
		Role:      role,
		JoinedAt:  now,
		UserName:  userName,
		UserEmail: userEmail,
	}

	newUserSide, _ := membership.Upsert(u.memberships, entry)
	newTeamSide, _ := membership.Upsert(t.members, entry)

	if err := saveUserMemberships(ctx, tx, userID, newUserSide); err != nil {
		return nil, err
	}
	if err := saveTeamMembers(ctx, tx, teamID, newTeamSide); err != nil {
		return nil, err
	}

	return &MemberChange{
		Added:    !userHas && !teamHas,
		Repaired: userHas != teamHas,
		Entry:    entry,
	}, nil
}

func (u *lockedUser) membershipFor(teamID string) *model.Membership {
	for i := range u.memberships {
		if u.memberships[i].TeamID == teamID {
			return &u.memberships[i]
		}
	}
	return nil
}

func (t *lockedTeam) memberFor(userID string) *model.Membership {
	for i := range t.members {
		if t.members[i].UserID == userID {
			return &t.members[i]
		}
	}
	return nil
}

// AddMember は (userID, teamID) のメンバーシップを両側に冪等にUPSERTする。
// 両側の書き込みは単一トランザクションで行われ、失敗時はどちらの側も変更されない。
func (r *PostgresMembershipRepo) AddMember(ctx context.Context, teamID, userID string, role model.Role, userName, userEmail string) (*MemberChange, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	change, err := addMemberTx(ctx, tx, teamID, userID, role, userName, userEmail, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return change, nil
}

// RemoveMember は (userID, teamID) のメンバーシップを両側から取り除く。
// 片側または両側に存在しない場合も成功する（冪等）。
// ユーザー行・チーム行のどちらかが存在しない場合も、残っている側だけ掃除して成功する。
func (r *PostgresMembershipRepo) RemoveMember(ctx context.Context, teamID, userID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 論理削除済みユーザーのメンバーシップも取り除けるようにする
	u, err := lockUserRow(ctx, tx, userID, true)
	if err != nil {
		return false, err
	}
	t, err := lockTeamRow(ctx, tx, teamID)
	if err != nil {
		return false, err
	}

	removed := false
	if u != nil {
		newEntries, changed := membership.Remove(u.memberships, userID, teamID)
		if changed {
			if err := saveUserMemberships(ctx, tx, userID, newEntries); err != nil {
				return false, err
			}
			removed = true
		}
	}
	if t != nil {
		newEntries, changed := membership.Remove(t.members, userID, teamID)
		if changed {
			if err := saveTeamMembers(ctx, tx, teamID, newEntries); err != nil {
				return false, err
			}
			removed = true
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return removed, nil
}

// UpdateMemberRole は両側のロールを対称に更新する。
// 存在判定はチーム側が権威であり、チーム側に不在の場合はMembershipNotFoundを返す。
// ユーザー側に欠けているエントリは黙殺せず書き込む（修復として報告する）。
func (r *PostgresMembershipRepo) UpdateMemberRole(ctx context.Context, teamID, userID string, role model.Role) (*MemberChange, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	u, err := lockUserRow(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}
	t, err := lockTeamRow(ctx, tx, teamID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, model.NewTeamNotFoundError(teamID)
	}

	teamEntry := t.memberFor(userID)
	if teamEntry == nil {
		return nil, model.NewMembershipNotFoundError(teamID, userID)
	}

	newTeamSide, _ := membership.SetRole(t.members, userID, teamID, role)
	if err := saveTeamMembers(ctx, tx, teamID, newTeamSide); err != nil {
		return nil, err
	}

	updated := *teamEntry
	updated.Role = role

	repaired := false
	if u != nil {
		newUserSide, found := membership.SetRole(u.memberships, userID, teamID, role)
		if !found {
			// ユーザー側欠落: チーム側のエントリを新ロールで書き込んで修復する
			if len(u.memberships) >= model.MaxTeamMembershipsPerUser {
				return nil, model.NewConstraintViolationError(
					fmt.Sprintf("所属チーム数が上限（%d件）に達しています", model.MaxTeamMembershipsPerUser))
			}
			newUserSide, _ = membership.Upsert(u.memberships, updated)
			repaired = true
		}
		if err := saveUserMemberships(ctx, tx, userID, newUserSide); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &MemberChange{Added: false, Repaired: repaired, Entry: updated}, nil
}

// TeamRoleOf はチーム側（権威側）の一覧から指定ユーザーのロールを返す。
// チームが存在しない、または所属していない場合は空文字列を返す。
func (r *PostgresMembershipRepo) TeamRoleOf(ctx context.Context, teamID, userID string) (model.Role, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT team_members FROM teams WHERE id = $1`,
		teamID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("チームメンバー一覧の取得に失敗しました: %w", err)
	}

	members, err := unmarshalMemberships(raw)
	if err != nil {
		return "", err
	}
	for _, m := range members {
		if m.UserID == userID {
			return m.Role, nil
		}
	}
	return "", nil
}

// RefreshTeamCopies は1チームの埋め込み一覧内にある指定ユーザーの
// 非正規化表示情報を更新する。チームが存在しない場合は0件更新の成功として扱う。
func (r *PostgresMembershipRepo) RefreshTeamCopies(ctx context.Context, teamID, userID, name, email string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := lockTeamRow(ctx, tx, teamID)
	if err != nil {
		return 0, err
	}
	if t == nil {
		return 0, nil
	}

	newEntries, updated := membership.RefreshProfile(t.members, userID, name, email)
	if updated > 0 {
		if err := saveTeamMembers(ctx, tx, teamID, newEntries); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, nil
}

// RemoveFromUserSide はユーザー側の一覧からのみエントリを取り除く。
// チーム物理削除後の残骸掃除に使用する。対象が存在しない場合も成功する（冪等）。
func (r *PostgresMembershipRepo) RemoveFromUserSide(ctx context.Context, userID, teamID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	u, err := lockUserRow(ctx, tx, userID, true)
	if err != nil {
		return err
	}
	if u == nil {
		return nil
	}

	newEntries, changed := membership.Remove(u.memberships, userID, teamID)
	if changed {
		if err := saveUserMemberships(ctx, tx, userID, newEntries); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// compile-time interface check
var _ MembershipRepository = (*PostgresMembershipRepo)(nil)
