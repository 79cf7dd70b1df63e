package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/teamman/internal/model"
	"github.com/lib/pq"
)

// teamColumns はチーム行の取得カラム。
const teamColumns = `id, name, team_members, billing_customer_id, billing_subscription_id,
	billing_product_id, plan_name, subscription_status, created_at, updated_at`

// PostgresTeamRepo はPostgreSQLを使用したチームリポジトリ。
// チーム名と課金情報の単一情報源。メンバー一覧の変更はMembershipRepositoryが担う。
type PostgresTeamRepo struct {
	db *sql.DB
}

// NewPostgresTeamRepo はPostgresTeamRepoを生成する。
func NewPostgresTeamRepo(db *sql.DB) *PostgresTeamRepo {
	return &PostgresTeamRepo{db: db}
}

// scanTeam は1行をmodel.Teamに読み取る。
func scanTeam(row rowScanner, team *model.Team) error {
	var raw []byte
	var customerID, subscriptionID, productID, planName, status sql.NullString

	err := row.Scan(
		&team.ID, &team.Name, &raw, &customerID, &subscriptionID,
		&productID, &planName, &status, &team.CreatedAt, &team.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if customerID.Valid {
		team.BillingCustomerID = &customerID.String
	}
	if subscriptionID.Valid {
		team.BillingSubscriptionID = &subscriptionID.String
	}
	if productID.Valid {
		team.BillingProductID = &productID.String
	}
	if planName.Valid {
		team.PlanName = &planName.String
	}
	if status.Valid {
		s := model.SubscriptionStatus(status.String)
		team.SubscriptionStatus = &s
	}

	entries, err := unmarshalMemberships(raw)
	if err != nil {
		return err
	}
	team.TeamMembers = entries
	return nil
}

// Create はチームを作成する。メンバー一覧は空配列、課金情報は未設定で開始する。
func (r *PostgresTeamRepo) Create(ctx context.Context, team *model.Team) error {
	data, err := marshalMemberships(team.TeamMembers)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO teams (id, name, team_members, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		team.ID, team.Name, data, team.CreatedAt, team.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("チームの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのチームを取得する。見つからない場合はnilを返す。
func (r *PostgresTeamRepo) FindByID(ctx context.Context, id string) (*model.Team, error) {
	team := &model.Team{}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1`,
		id,
	)

	err := scanTeam(row, team)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チームの取得に失敗しました: %w", err)
	}

	return team, nil
}

// FindByIDs は指定ID群のチームを取得する。存在しないIDは結果から除外される。
func (r *PostgresTeamRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Team, error) {
	if len(ids) == 0 {
		return []*model.Team{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = ANY($1) ORDER BY created_at`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("チーム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	teams := []*model.Team{}
	for rows.Next() {
		team := &model.Team{}
		if err := scanTeam(rows, team); err != nil {
			return nil, fmt.Errorf("チーム行の読み取りに失敗しました: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チーム一覧の走査に失敗しました: %w", err)
	}

	return teams, nil
}

// Rename はチーム名のみを更新する。過去に書き込まれた招待・アクティビティログ内の
// チーム名スナップショットには触れない。
func (r *PostgresTeamRepo) Rename(ctx context.Context, id, name string) (*model.Team, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE teams SET name = $2, updated_at = now() WHERE id = $1`,
		id, name,
	)
	if err != nil {
		return nil, fmt.Errorf("チーム名の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return nil, model.NewTeamNotFoundError(id)
	}

	return r.FindByID(ctx, id)
}

// UpdateSubscription は課金情報をフィールド単位で冪等に更新する。
// パッチで省略されたフィールドは変更せず、nullが指定されたフィールドはクリアする。
// 三状態の適用は単一のUPDATE文で行い、読み取り・書き込み間の競合を避ける。
// 課金識別子の一意性違反はConstraintViolationエラーに変換する。
func (r *PostgresTeamRepo) UpdateSubscription(ctx context.Context, id string, patch model.SubscriptionPatch) (*model.Team, error) {
	team := &model.Team{}
	row := r.db.QueryRowContext(ctx,
		`UPDATE teams SET
		   billing_customer_id     = CASE WHEN $2 THEN $3 ELSE billing_customer_id END,
		   billing_subscription_id = CASE WHEN $4 THEN $5 ELSE billing_subscription_id END,
		   billing_product_id      = CASE WHEN $6 THEN $7 ELSE billing_product_id END,
		   plan_name               = CASE WHEN $8 THEN $9 ELSE plan_name END,
		   subscription_status     = CASE WHEN $10 THEN $11 ELSE subscription_status END,
		   updated_at = now()
		 WHERE id = $1
		 RETURNING `+teamColumns,
		id,
		patch.CustomerID.Set, patch.CustomerID.Value,
		patch.SubscriptionID.Set, patch.SubscriptionID.Value,
		patch.ProductID.Set, patch.ProductID.Value,
		patch.PlanName.Set, patch.PlanName.Value,
		patch.Status.Set, patch.Status.Value,
	)

	err := scanTeam(row, team)
	if err == sql.ErrNoRows {
		return nil, model.NewTeamNotFoundError(id)
	}
	if err != nil {
		if isUniqueViolation(err, constraintTeamsBillingCustomer) || isUniqueViolation(err, constraintTeamsBillingSub) {
			return nil, model.NewConstraintViolationError("課金識別子が別のチームで使用されています")
		}
		return nil, fmt.Errorf("課金情報の更新に失敗しました: %w", err)
	}

	return team, nil
}

// FindByCustomerID は課金顧客IDでチームを検索する。見つからない場合はnilを返す。
// 部分一意インデックス teams_billing_customer_id_key により高々1件に解決される。
func (r *PostgresTeamRepo) FindByCustomerID(ctx context.Context, customerID string) (*model.Team, error) {
	team := &model.Team{}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE billing_customer_id = $1`,
		customerID,
	)

	err := scanTeam(row, team)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("課金顧客IDによるチームの検索に失敗しました: %w", err)
	}

	return team, nil
}

// Delete はチームを物理削除し、削除時点のチームを返す。見つからない場合はnilを返す。
// 返却値のメンバー一覧はユーザー側エントリの掃除（ベストエフォート）に使用される。
func (r *PostgresTeamRepo) Delete(ctx context.Context, id string) (*model.Team, error) {
	team := &model.Team{}
	row := r.db.QueryRowContext(ctx,
		`DELETE FROM teams WHERE id = $1 RETURNING `+teamColumns,
		id,
	)

	err := scanTeam(row, team)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チームの削除に失敗しました: %w", err)
	}

	return team, nil
}

// compile-time interface check
var _ TeamRepository = (*PostgresTeamRepo)(nil)
