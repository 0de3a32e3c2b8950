// Package security はアプリケーションのセキュリティ機能を提供する。
//
// InputSanitizer は登録・編集フォームの自由入力テキストからマークアップを除去する。
// bluemondayのStrictPolicyでタグをすべて取り除き、プレーンテキストとして保存する。
// 出力時のエスケープはテンプレート側で行う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由入力テキストのサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// Sanitize はタグを除去し前後の空白を取り除いたテキストを返す。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// InputSanitizer はTextSanitizerの実装。ポリシーはスレッドセーフに共有できる。
type InputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerを生成する。
func NewInputSanitizer() *InputSanitizer {
	return &InputSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses は文字参照の多重エンコードを解く回数の上限。
const maxSanitizePasses = 8

// Sanitize はタグを除去したプレーンテキストを返す。
// 文字参照で書かれたタグも復元してから除去し、結果が変わらなくなるまで繰り返す。
// 上限回数で収束しない入力は空文字列にする。
func (s *InputSanitizer) Sanitize(raw string) string {
	text := strings.TrimSpace(raw)
	for i := 0; i < maxSanitizePasses; i++ {
		next := s.pass(text)
		if next == text {
			return text
		}
		text = next
	}
	return ""
}

// pass は文字参照を解いてタグを除去し、StrictPolicyが付与した文字参照を元の文字に戻す。
func (s *InputSanitizer) pass(text string) string {
	if text == "" {
		return ""
	}
	cleaned := s.policy.Sanitize(html.UnescapeString(text))
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// compile-time interface check
var _ TextSanitizer = (*InputSanitizer)(nil)
