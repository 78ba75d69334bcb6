package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxRemoteTextLen はリモートインスタンス由来のテキストを切り詰める長さ（ルーン数）。
const maxRemoteTextLen = 300

// TextSanitizer はフラッシュメッセージに載せる信頼できないテキスト
// （リモートインスタンスのエラー説明など）からマークアップを除去し、Cookieに収まる長さにする。
// 結果はプレーンテキストで、HTMLとして出力する側でエスケープされる前提。
// APIレスポンスやログに渡すRemoteErrorの説明には適用しない。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はすべてのタグを除去するTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを取り除き、空白を詰め、長すぎる場合は切り詰める。
// bluemondayがエスケープした実体参照は元の文字に戻す。
func (s *TextSanitizer) Sanitize(text string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(text))
	stripped = strings.Join(strings.Fields(stripped), " ")

	if utf8.RuneCountInString(stripped) <= maxRemoteTextLen {
		return stripped
	}
	runes := []rune(stripped)
	return string(runes[:maxRemoteTextLen]) + "…"
}
