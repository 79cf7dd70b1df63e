package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	membership "github.com/hitoshi/teamman/internal/membership/engine"
	"github.com/hitoshi/teamman/internal/model"
	"github.com/lib/pq"
)

// activeUserFilter は有効な（論理削除されていない）ユーザーに絞る共通述語。
// 論理削除の除外条件をクエリごとに書かず、この1箇所に集約する。
const activeUserFilter = `deleted_at IS NULL`

// userColumns は認証情報を除くユーザー行の取得カラム。
const userColumns = `id, name, email, role, team_memberships, deleted_at, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// アイデンティティ集約（表示名・メールアドレス・ロール・論理削除状態）の単一情報源。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner はsql.Rowとsql.Rowsの共通部分。行スキャンヘルパーを両方で使い回すための型。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUser は1行をmodel.Userに読み取る。credentialがtrueの場合はパスワードハッシュも読み取る。
func scanUser(row rowScanner, user *model.User, credential bool) error {
	var raw []byte
	var name sql.NullString
	var deletedAt sql.NullTime

	dest := []interface{}{
		&user.ID, &name, &user.Email, &user.Role, &raw, &deletedAt,
		&user.CreatedAt, &user.UpdatedAt,
	}
	if credential {
		dest = append(dest, &user.PasswordHash)
	}

	if err := row.Scan(dest...); err != nil {
		return err
	}

	user.Name = name.String
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}

	entries, err := unmarshalMemberships(raw)
	if err != nil {
		return err
	}
	user.TeamMemberships = entries
	return nil
}

// FindByID は指定IDの有効なユーザーを取得する。見つからない場合はnilを返す。
// 認証情報（パスワードハッシュ）は取得しない。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND `+activeUserFilter,
		id,
	)

	err := scanUser(row, user, false)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	return user, nil
}

// FindByEmail はメールアドレスで有効なユーザーを検索する。見つからない場合はnilを返す。
// includeCredentialがtrueの場合のみパスワードハッシュのカラムを取得する。
// 既定の読み取りで認証情報が呼び出し側に漏れることはない。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string, includeCredential bool) (*model.User, error) {
	columns := userColumns
	if includeCredential {
		columns += ", password_hash"
	}

	user := &model.User{}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM users WHERE email = $1 AND `+activeUserFilter,
		email,
	)

	err := scanUser(row, user, includeCredential)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メールアドレスによるユーザーの検索に失敗しました: %w", err)
	}

	return user, nil
}

// Create はユーザーを作成する。
// 有効なユーザー間でのメールアドレス重複は部分一意インデックス
// users_active_email_key が検出し、DuplicateEmailエラーに変換する。
// 事前チェックは行わない（並行リクエストとの競合を塞げないため）。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	data, err := marshalMemberships(user.TeamMemberships)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, team_memberships, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.Role, data,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintUsersActiveEmail) {
			return model.NewDuplicateEmailError(user.Email)
		}
		return fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateProfile は表示名・メールアドレスを部分更新する。nilのフィールドは変更しない。
// 同一トランザクションで、ユーザー自身の埋め込みメンバーシップ一覧内の
// 非正規化コピーを書き換え、チーム側コピーへの伝播タスクをoutboxに登録する。
// ファンアウト先のチーム一覧は編集前のメンバーシップ一覧から取得する
// （編集自体が触れないチームを取りこぼさないため）。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, name, email *string) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	u, err := lockUserRow(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, model.NewUserNotFoundError(id)
	}

	// 編集前のメンバーシップ一覧をファンアウト先として確保する
	fanout := make([]string, 0, len(u.memberships))
	for _, m := range u.memberships {
		fanout = append(fanout, m.TeamID)
	}

	newName := u.name
	if name != nil {
		newName = *name
	}
	newEmail := u.email
	if email != nil {
		newEmail = *email
	}

	// ユーザー自身の埋め込み一覧の非正規化コピーも同じ行更新で書き換える
	newEntries, _ := membership.RefreshProfile(u.memberships, id, newName, newEmail)
	data, err := marshalMemberships(newEntries)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE users SET name = $2, email = $3, team_memberships = $4, updated_at = $5 WHERE id = $1`,
		id, newName, newEmail, data, now,
	)
	if err != nil {
		if isUniqueViolation(err, constraintUsersActiveEmail) {
			return nil, model.NewDuplicateEmailError(newEmail)
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	// 表示情報が変わった場合のみ、チーム側コピーへの伝播タスクを登録する
	changed := newName != u.name || newEmail != u.email
	if changed && len(fanout) > 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO profile_sync_outbox (id, user_id, name, email, team_ids, attempts, created_at)
			 VALUES ($1, $2, $3, $4, $5, 0, $6)`,
			uuid.New().String(), id, newName, newEmail, pq.Array(fanout), now,
		)
		if err != nil {
			return nil, fmt.Errorf("プロフィール伝播タスクの登録に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &model.User{
		ID:              id,
		Name:            newName,
		Email:           newEmail,
		TeamMemberships: newEntries,
		UpdatedAt:       now,
	}, nil
}

// UpdateRole はグローバルロールを更新する。メンバーシップのチーム内ロールには影響しない。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, id string, role model.Role) (*model.User, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1 AND `+activeUserFilter,
		id, role,
	)
	if err != nil {
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return nil, model.NewUserNotFoundError(id)
	}

	return r.FindByID(ctx, id)
}

// SoftDelete はdeleted_atを設定して論理削除する。冪等であり、既に削除済みの場合も成功する。
// メンバーシップエントリは取り除かない（チームからの離脱は別の明示的な手順）。
func (r *PostgresUserRepo) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET deleted_at = COALESCE(deleted_at, now()), updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの論理削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
