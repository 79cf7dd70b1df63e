package repository

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLの一意性制約違反エラーコード。
const uniqueViolationCode = "23505"

// 部分一意インデックス名。マイグレーションの定義と一致させること。
const (
	constraintUsersActiveEmail     = "users_active_email_key"
	constraintInvitationsPending   = "invitations_pending_key"
	constraintTeamsBillingCustomer = "teams_billing_customer_id_key"
	constraintTeamsBillingSub      = "teams_billing_subscription_id_key"
)

// isUniqueViolation はエラーが指定制約の一意性違反かどうかを判定する。
// constraintが空文字列の場合は制約名を問わず一意性違反全般を判定する。
// 事前チェックでは並行リクエストとの競合を塞げないため、
// 重複検出は必ずこのストレージ層の制約違反で捕捉する。
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if string(pqErr.Code) != uniqueViolationCode {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
