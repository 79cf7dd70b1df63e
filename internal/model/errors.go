// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Category の conflict は「既に目的の状態にある・安全に無視/再試行できる」こと、
// validation は「構造的に不正であり同じ内容での再試行は無意味である」ことを区別する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, conflict, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeDuplicateEmail            = "DUPLICATE_EMAIL"
	ErrCodeDuplicateInvitation       = "DUPLICATE_INVITATION"
	ErrCodeInvitationAlreadyResolved = "INVITATION_ALREADY_RESOLVED"
	ErrCodeInvitationNotFound        = "INVITATION_NOT_FOUND"
	ErrCodeMembershipNotFound        = "MEMBERSHIP_NOT_FOUND"
	ErrCodeTeamNotFound              = "TEAM_NOT_FOUND"
	ErrCodeUserNotFound              = "USER_NOT_FOUND"
	ErrCodeTransactionAborted        = "TRANSACTION_ABORTED"
	ErrCodeConstraintViolation       = "CONSTRAINT_VIOLATION"
	ErrCodeUnauthorized              = "UNAUTHORIZED"
	ErrCodeForbidden                 = "FORBIDDEN"
	ErrCodeInvalidCredentials        = "INVALID_CREDENTIALS"
	ErrCodeInvalidRequest            = "INVALID_REQUEST"
)

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
// 有効な（論理削除されていない）ユーザーの間でメールアドレスが衝突した場合に返す。
func NewDuplicateEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  fmt.Sprintf("このメールアドレスは既に登録されています: %s", email),
		Category: "conflict",
		Action:   "別のメールアドレスを使用するか、既存のアカウントでログインしてください。",
	}
}

// NewDuplicateInvitationError は招待重複エラーを生成する。
// 同一チーム・同一メールアドレスに対する保留中の招待が既に存在する場合に返す。
func NewDuplicateInvitationError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateInvitation,
		Message:  fmt.Sprintf("このメールアドレスへの招待は既に送信されています: %s", email),
		Category: "conflict",
		Action:   "既存の招待への返答を待つか、期限切れ後に再度招待してください。",
	}
}

// NewInvitationAlreadyResolvedError は確定済み招待への操作エラーを生成する。
// 期限切れを含む終端状態の招待に対する受諾・辞退で返す。
func NewInvitationAlreadyResolvedError(status InvitationStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvitationAlreadyResolved,
		Message:  fmt.Sprintf("この招待は既に確定しています: %s", status),
		Category: "conflict",
		Action:   "新しい招待が必要な場合はチームのオーナーに依頼してください。",
	}
}

// NewInvitationNotFoundError は招待未検出エラーを生成する。
func NewInvitationNotFoundError(invitationID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvitationNotFound,
		Message:  fmt.Sprintf("指定された招待が見つかりません: %s", invitationID),
		Category: "validation",
		Action:   "招待IDを確認してください。",
	}
}

// NewMembershipNotFoundError はメンバーシップ未検出エラーを生成する。
func NewMembershipNotFoundError(teamID, userID string) *APIError {
	return &APIError{
		Code:     ErrCodeMembershipNotFound,
		Message:  fmt.Sprintf("指定されたメンバーシップが見つかりません: team=%s user=%s", teamID, userID),
		Category: "validation",
		Action:   "チームのメンバー一覧を確認してください。",
	}
}

// NewTeamNotFoundError はチーム未検出エラーを生成する。
func NewTeamNotFoundError(teamID string) *APIError {
	return &APIError{
		Code:     ErrCodeTeamNotFound,
		Message:  fmt.Sprintf("指定されたチームが見つかりません: %s", teamID),
		Category: "validation",
		Action:   "チームIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", userID),
		Category: "validation",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewTransactionAbortedError はトランザクション中断エラーを生成する。
// 複数集約にまたがる操作が失敗し、全体がロールバックされたことを示す。
// どちらの側も変更されていないため、再試行は安全。
func NewTransactionAbortedError() *APIError {
	return &APIError{
		Code:     ErrCodeTransactionAborted,
		Message:  "操作を完了できませんでした。変更はすべて取り消されています。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewConstraintViolationError は一意性制約違反エラーを生成する。
// ストレージ層の制約違反のうち、上位の分類（メール重複・招待重複）に
// 該当しないものに対する受け皿。
func NewConstraintViolationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConstraintViolation,
		Message:  fmt.Sprintf("データ整合性制約に違反しています: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "チームのオーナーまたは管理者に依頼してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// ユーザーの存在有無を区別させないため、メッセージは常に同一にする。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidRequestError は入力検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
