// Package membership はユーザー・チーム双方に埋め込まれたメンバーシップ一覧の
// 整合性維持機能を提供する。
// 埋め込み一覧への変更操作は副作用のない純粋関数として定義し、
// 永続化・トランザクション適用はリポジトリ層が担う。
package membership

import "github.com/hitoshi/teamman/internal/model"

// Upsert は一覧に対してエントリを冪等に挿入または上書きする。
// 同一 (UserID, TeamID) のエントリが既に存在する場合は、
// ロール・参加時刻・非正規化フィールドを新しい値で上書きし、重複は作らない。
// 過去の部分障害で重複エントリが混入していた場合は最初の1件に畳み込む。
// 入力の一覧は変更せず、新しい一覧と新規追加だったかどうかを返す。
func Upsert(entries []model.Membership, entry model.Membership) ([]model.Membership, bool) {
	result := make([]model.Membership, 0, len(entries)+1)
	found := false
	for _, e := range entries {
		if e.UserID == entry.UserID && e.TeamID == entry.TeamID {
			if !found {
				result = append(result, entry)
				found = true
			}
			// 2件目以降の重複は捨てる
			continue
		}
		result = append(result, e)
	}
	if !found {
		result = append(result, entry)
	}
	return result, !found
}

// Remove は一覧から (UserID, TeamID) のエントリを取り除く。
// 重複が混入していた場合もすべて取り除く。
// 入力の一覧は変更せず、新しい一覧と削除が発生したかどうかを返す。
// 存在しないエントリの削除は削除なしの成功として扱う（冪等）。
func Remove(entries []model.Membership, userID, teamID string) ([]model.Membership, bool) {
	result := make([]model.Membership, 0, len(entries))
	removed := false
	for _, e := range entries {
		if e.UserID == userID && e.TeamID == teamID {
			removed = true
			continue
		}
		result = append(result, e)
	}
	return result, removed
}

// SetRole は一覧内の (UserID, TeamID) エントリのロールのみを更新する。
// 参加時刻と非正規化フィールドは保持する。
// 入力の一覧は変更せず、新しい一覧とエントリが存在したかどうかを返す。
func SetRole(entries []model.Membership, userID, teamID string, role model.Role) ([]model.Membership, bool) {
	result := make([]model.Membership, len(entries))
	copy(result, entries)
	found := false
	for i := range result {
		if result[i].UserID == userID && result[i].TeamID == teamID {
			result[i].Role = role
			found = true
		}
	}
	return result, found
}

// RefreshProfile は一覧内の指定ユーザーの全エントリについて、
// 非正規化された表示名・メールアドレスのコピーを新しい値に更新する。
// プロフィール編集のファンアウト（チーム側）とユーザー自身の一覧（自分側）の
// 両方で使用する。入力の一覧は変更せず、新しい一覧と更新件数を返す。
func RefreshProfile(entries []model.Membership, userID, name, email string) ([]model.Membership, int) {
	result := make([]model.Membership, len(entries))
	copy(result, entries)
	updated := 0
	for i := range result {
		if result[i].UserID != userID {
			continue
		}
		if result[i].UserName == name && result[i].UserEmail == email {
			continue
		}
		result[i].UserName = name
		result[i].UserEmail = email
		updated++
	}
	return result, updated
}

// Agree は2つのエントリが {UserID, TeamID, Role} について一致するかどうかを返す。
// 双方向埋め込みコピーの整合性判定に使用する。
func Agree(a, b *model.Membership) bool {
	if a == nil || b == nil {
		return false
	}
	return a.UserID == b.UserID && a.TeamID == b.TeamID && a.Role == b.Role
}

// DetectAsymmetry はユーザー側・チーム側の一覧の間で (userID, teamID) の
// エントリの存在が食い違っているかどうかを返す。
// 食い違いは過去の部分障害の残骸とみなし、呼び出し側（addMember）が
// 欠けている側を書き込んで修復する。
func DetectAsymmetry(userSide []model.Membership, teamSide []model.Membership, userID, teamID string) bool {
	userHas := contains(userSide, userID, teamID)
	teamHas := contains(teamSide, userID, teamID)
	return userHas != teamHas
}

func contains(entries []model.Membership, userID, teamID string) bool {
	for _, e := range entries {
		if e.UserID == userID && e.TeamID == teamID {
			return true
		}
	}
	return false
}
