package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/teamman/internal/model"
)

// scriptedConn はトランザクション境界の検証用に台本化したdatabase/sql/driver実装。
// クエリ文字列の部分一致で応答行を返し、failSubstringに一致する文で故意に失敗する。
// コミット・ロールバックの回数と実行された文を記録する。
type scriptedConn struct {
	mu            sync.Mutex
	stubs         []queryStub
	failSubstring string
	executed      []string
	commits       int
	rollbacks     int
}

type queryStub struct {
	substring string
	columns   []string
	rows      [][]driver.Value
}

// stub は部分一致するSELECTに対する応答行を登録する。登録順に最初の一致が使われる。
func (c *scriptedConn) stub(substring string, columns []string, rows ...[]driver.Value) {
	c.stubs = append(c.stubs, queryStub{substring: substring, columns: columns, rows: rows})
}

// failOn は部分一致する文を故意に失敗させる。
func (c *scriptedConn) failOn(substring string) {
	c.failSubstring = substring
}

// executedContaining は部分一致する実行済みの文の数を返す。
func (c *scriptedConn) executedContaining(substring string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.executed {
		if strings.Contains(q, substring) {
			n++
		}
	}
	return n
}

func (c *scriptedConn) record(query string) error {
	c.mu.Lock()
	c.executed = append(c.executed, query)
	c.mu.Unlock()
	if c.failSubstring != "" && strings.Contains(query, c.failSubstring) {
		return errors.New("injected failure: " + c.failSubstring)
	}
	return nil
}

// driver.Conn

func (c *scriptedConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("prepare is not scripted")
}

func (c *scriptedConn) Close() error { return nil }

func (c *scriptedConn) Begin() (driver.Tx, error) { return c, nil }

// driver.Tx

func (c *scriptedConn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	return nil
}

func (c *scriptedConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	return nil
}

// driver.QueryerContext

func (c *scriptedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.record(query); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.stubs {
		if strings.Contains(query, s.substring) {
			return &scriptedRows{columns: s.columns, rows: s.rows}, nil
		}
	}
	return &scriptedRows{columns: []string{"unused"}}, nil
}

// driver.ExecerContext

func (c *scriptedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.record(query); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

// scriptedRows はdriver.Rowsの台本実装。
type scriptedRows struct {
	columns []string
	rows    [][]driver.Value
	pos     int
}

func (r *scriptedRows) Columns() []string { return r.columns }

func (r *scriptedRows) Close() error { return nil }

func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

// scriptedConnector は同一のscriptedConnを返すdriver.Connector。
type scriptedConnector struct {
	conn *scriptedConn
}

func (c scriptedConnector) Connect(ctx context.Context) (driver.Conn, error) { return c.conn, nil }

func (c scriptedConnector) Driver() driver.Driver { return scriptedDriver{conn: c.conn} }

type scriptedDriver struct {
	conn *scriptedConn
}

func (d scriptedDriver) Open(name string) (driver.Conn, error) { return d.conn, nil }

// newScriptedDB は台本接続を使う*sql.DBを生成する。
func newScriptedDB(conn *scriptedConn) *sql.DB {
	db := sql.OpenDB(scriptedConnector{conn: conn})
	db.SetMaxOpenConns(1)
	return db
}

// ユーザー行の台本値。lockUserRow / scanUser のカラム順に合わせる。
func stubUserRow(conn *scriptedConn, id, name, email string, memberships []model.Membership) {
	data, err := marshalMemberships(memberships)
	if err != nil {
		panic(err)
	}
	conn.stub("FROM users",
		[]string{"id", "name", "email", "team_memberships", "deleted_at"},
		[]driver.Value{id, name, email, data, nil},
	)
}

// チーム行の台本値。lockTeamRowのカラム順に合わせる。
func stubTeamRow(conn *scriptedConn, id, name string, members []model.Membership) {
	data, err := marshalMemberships(members)
	if err != nil {
		panic(err)
	}
	conn.stub("FROM teams",
		[]string{"id", "name", "team_members"},
		[]driver.Value{id, name, data},
	)
}

// 招待行の台本値。lockInvitationRow / scanInvitation のカラム順に合わせる。
func stubInvitationRow(conn *scriptedConn, inv *model.Invitation) {
	var resolvedAt driver.Value
	if inv.ResolvedAt != nil {
		resolvedAt = *inv.ResolvedAt
	}
	conn.stub("FROM invitations",
		[]string{"id", "team_id", "email", "role", "invited_by", "status",
			"team_name", "inviter_name", "inviter_email", "resolved_at", "created_at"},
		[]driver.Value{inv.ID, inv.TeamID, inv.Email, string(inv.Role), inv.InvitedBy,
			string(inv.Status), inv.TeamName, inv.InviterName, inv.InviterEmail,
			resolvedAt, inv.CreatedAt},
	)
}

// pendingInvitation は台本用の保留中招待を生成する。
func pendingInvitation(id, teamID, email string, createdAt time.Time) *model.Invitation {
	return &model.Invitation{
		ID:           id,
		TeamID:       teamID,
		Email:        email,
		Role:         model.RoleMember,
		InvitedBy:    "inviter-1",
		Status:       model.InvitationStatusPending,
		TeamName:     "開発チーム",
		InviterName:  "招待 太郎",
		InviterEmail: "inviter@example.com",
		CreatedAt:    createdAt,
	}
}
