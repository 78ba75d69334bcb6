// Package view はHTMLページの描画を提供する。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページ名。
const (
	PageHome     = "home"
	PageLogin    = "login"
	PagePrivacy  = "privacy"
	PageNotFound = "not_found"
	PageError    = "error"
)

var pageNames = []string{PageHome, PageLogin, PagePrivacy, PageNotFound, PageError}

// フラッシュメッセージの種類。
const (
	FlashSuccess = "success"
	FlashError   = "error"
)

// Flash は次のページ表示で一度だけ表示するメッセージ。
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// LoginForm はログインフォームの入力値とフィールドエラー。
type LoginForm struct {
	Instance string
	Errors   []string
}

// Page はレイアウトと各ページテンプレートに渡すデータ。
type Page struct {
	Title string
	// ShowTitle がtrueの場合は本文にも見出しとして表示する。
	ShowTitle bool
	Flash     *Flash

	SignedIn bool
	// InstanceDomain はログイン中ユーザーのホームインスタンス。
	InstanceDomain string

	CSRFToken string
	Revision  string

	Login *LoginForm
}

// Renderer は埋め込みテンプレートからページを描画する。
type Renderer struct {
	pages    map[string]*template.Template
	revision string
}

// New は全ページのテンプレートを解析してRendererを生成する。
func New(revision string) (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).
			Funcs(sprig.HtmlFuncMap()).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages, revision: revision}, nil
}

// Render はページを描画してstatusで書き込む。
// 描画に失敗した場合はレスポンスに何も書かずにエラーを返す。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, page Page) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	if page.Revision == "" {
		page.Revision = r.revision
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", page); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
