package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/teamman/internal/model"
)

// invitationColumns は招待行の取得カラム。
const invitationColumns = `id, team_id, email, role, invited_by, status,
	team_name, inviter_name, inviter_email, resolved_at, created_at`

// PostgresInvitationRepo はPostgreSQLを使用した招待リポジトリ。
// 招待の状態機械（pending → accepted / declined / expired、遷移後は終端）を
// トランザクション内の行ロックで強制する。
type PostgresInvitationRepo struct {
	db *sql.DB
}

// NewPostgresInvitationRepo はPostgresInvitationRepoを生成する。
func NewPostgresInvitationRepo(db *sql.DB) *PostgresInvitationRepo {
	return &PostgresInvitationRepo{db: db}
}

// scanInvitation は1行をmodel.Invitationに読み取る。
func scanInvitation(row rowScanner, inv *model.Invitation) error {
	var resolvedAt sql.NullTime

	err := row.Scan(
		&inv.ID, &inv.TeamID, &inv.Email, &inv.Role, &inv.InvitedBy, &inv.Status,
		&inv.TeamName, &inv.InviterName, &inv.InviterEmail, &resolvedAt, &inv.CreatedAt,
	)
	if err != nil {
		return err
	}

	if resolvedAt.Valid {
		inv.ResolvedAt = &resolvedAt.Time
	}
	return nil
}

// Create は招待を作成する。同一 (teamID, email) の保留中招待の重複は
// 部分一意インデックス invitations_pending_key が検出し、
// DuplicateInvitationエラーに変換する。
func (r *PostgresInvitationRepo) Create(ctx context.Context, inv *model.Invitation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invitations (id, team_id, email, role, invited_by, status,
		   team_name, inviter_name, inviter_email, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.TeamID, inv.Email, inv.Role, inv.InvitedBy, inv.Status,
		inv.TeamName, inv.InviterName, inv.InviterEmail, inv.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintInvitationsPending) {
			return model.NewDuplicateInvitationError(inv.Email)
		}
		return fmt.Errorf("招待の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
func (r *PostgresInvitationRepo) FindByID(ctx context.Context, id string) (*model.Invitation, error) {
	inv := &model.Invitation{}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`,
		id,
	)

	err := scanInvitation(row, inv)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("招待の取得に失敗しました: %w", err)
	}

	return inv, nil
}

// listPending は保留中の招待を条件付きで新しい順に取得する共通実装。
func (r *PostgresInvitationRepo) listPending(ctx context.Context, where string, arg interface{}) ([]*model.Invitation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE `+where+` AND status = $2
		 ORDER BY created_at DESC`,
		arg, model.InvitationStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("保留中招待の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	invitations := []*model.Invitation{}
	for rows.Next() {
		inv := &model.Invitation{}
		if err := scanInvitation(rows, inv); err != nil {
			return nil, fmt.Errorf("招待行の読み取りに失敗しました: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("保留中招待の走査に失敗しました: %w", err)
	}

	return invitations, nil
}

// ListPendingByTeam はチームの保留中招待を作成日時降順で返す。
func (r *PostgresInvitationRepo) ListPendingByTeam(ctx context.Context, teamID string) ([]*model.Invitation, error) {
	return r.listPending(ctx, "team_id = $1", teamID)
}

// ListPendingByEmail はメールアドレス宛の保留中招待を作成日時降順で返す。
// メールアドレスの比較は大文字小文字を区別しない。
func (r *PostgresInvitationRepo) ListPendingByEmail(ctx context.Context, email string) ([]*model.Invitation, error) {
	return r.listPending(ctx, "lower(email) = lower($1)", email)
}

// lockInvitationRow は招待行をFOR UPDATEでロックして取得する。見つからない場合はnilを返す。
// ロック順序は招待行→ユーザー行→チーム行で固定する。
func lockInvitationRow(ctx context.Context, tx *sql.Tx, invitationID string) (*model.Invitation, error) {
	inv := &model.Invitation{}
	row := tx.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1 FOR UPDATE`,
		invitationID,
	)

	err := scanInvitation(row, inv)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("招待行のロック取得に失敗しました: %w", err)
	}

	return inv, nil
}

// resolveInvitation はロック済みの招待行を終端状態へ更新する。
func resolveInvitation(ctx context.Context, tx *sql.Tx, invitationID string, status model.InvitationStatus, resolvedAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE invitations SET status = $2, resolved_at = $3 WHERE id = $1`,
		invitationID, status, resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("招待状態の更新に失敗しました: %w", err)
	}
	return nil
}

// validatePending は招待が受諾・辞退可能な状態であることを検証する。
// 終端状態の場合はInvitationAlreadyResolvedを返す。
// 期限超過かつ未スイープの保留中招待は、この場でexpiredに更新してコミットで確定させた上で
// InvitationAlreadyResolvedを返す（スイープを待たずに終端遷移を永続化する）。
func validatePending(ctx context.Context, tx *sql.Tx, inv *model.Invitation, now time.Time, ttl time.Duration) error {
	if inv.Status.IsTerminal() {
		return model.NewInvitationAlreadyResolvedError(inv.Status)
	}
	if inv.ExpiredAt(now, ttl) {
		if err := resolveInvitation(ctx, tx, inv.ID, model.InvitationStatusExpired, now); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return model.NewInvitationAlreadyResolvedError(model.InvitationStatusExpired)
	}
	return nil
}

// Accept は招待受諾を単一トランザクションで実行する。
// 招待行をロックして保留中かつ期限内であることを検証し、招待のロールで
// メンバーシップを両側に書き込み、招待をacceptedに更新する。
// メンバーシップの書き込みに失敗した場合は全体がロールバックされ、
// 招待は保留中のまま残る（再試行可能）。
func (r *PostgresInvitationRepo) Accept(ctx context.Context, invitationID, userID string, ttl time.Duration) (*model.Invitation, *MemberChange, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := lockInvitationRow(ctx, tx, invitationID)
	if err != nil {
		return nil, nil, err
	}
	if inv == nil {
		return nil, nil, model.NewInvitationNotFoundError(invitationID)
	}

	now := time.Now().UTC()
	if err := validatePending(ctx, tx, inv, now, ttl); err != nil {
		return nil, nil, err
	}

	change, err := addMemberTx(ctx, tx, inv.TeamID, userID, inv.Role, "", "", now)
	if err != nil {
		return nil, nil, err
	}

	if err := resolveInvitation(ctx, tx, invitationID, model.InvitationStatusAccepted, now); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	inv.Status = model.InvitationStatusAccepted
	inv.ResolvedAt = &now
	return inv, change, nil
}

// Decline は招待を辞退する。検証はAcceptと同一で、メンバーシップには触れない。
func (r *PostgresInvitationRepo) Decline(ctx context.Context, invitationID string, ttl time.Duration) (*model.Invitation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := lockInvitationRow(ctx, tx, invitationID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, model.NewInvitationNotFoundError(invitationID)
	}

	now := time.Now().UTC()
	if err := validatePending(ctx, tx, inv, now, ttl); err != nil {
		return nil, err
	}

	if err := resolveInvitation(ctx, tx, invitationID, model.InvitationStatusDeclined, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	inv.Status = model.InvitationStatusDeclined
	inv.ResolvedAt = &now
	return inv, nil
}

// compile-time interface check
var _ InvitationRepository = (*PostgresInvitationRepo)(nil)
