// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizerService はユーザー表示名やチーム名などの自由入力文字列を
// サニタイズし、XSS攻撃などのセキュリティリスクからユーザーを保護する。
// 表示名はメンバーシップの埋め込みコピー・招待スナップショット・監査ログに
// 非正規化して複製されるため、保存前に必ずこのサービスを通すこと。
// bluemondayライブラリのStrictPolicyを使用し、HTMLタグを一切許可しない。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService は表示名サニタイズ機能のインターフェースを定義する。
// ユーザー表示名・チーム名の保存前に使用される。
type NameSanitizerService interface {
	// SanitizeName は入力文字列からすべてのHTMLタグと制御文字を除去し、
	// 前後の空白をトリムしたプレーンテキストを返す。
	// HTMLエンティティはデコードして返す（"A &amp; B" → "A & B"）。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeName(raw string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはタグも属性も一切許可しないため、scriptタグや
// on*イベント属性を含むあらゆるHTMLが除去される。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeName は表示名をサニタイズしてプレーンテキストを返す。
func (s *nameSanitizer) SanitizeName(raw string) string {
	// エンティティで偽装されたタグ（&lt;script&gt; 等）も除去対象にするため、
	// 先にデコードしてからポリシーを適用する。
	stripped := s.policy.Sanitize(html.UnescapeString(raw))

	// StrictPolicyは残った文字をHTMLエンティティにエスケープするが、
	// 保存対象はプレーンテキストのためデコードして戻す。
	decoded := html.UnescapeString(stripped)

	// 改行やタブを含む制御文字は表示名として意味を持たないため除去する。
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, decoded)

	return strings.TrimSpace(cleaned)
}
