// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fediurl/internal/auth"
	"github.com/hitoshi/fediurl/internal/middleware"
	"github.com/hitoshi/fediurl/internal/model"
	"github.com/hitoshi/fediurl/internal/view"
)

const (
	loginSuccessMessage  = "Log in successful"
	logoutMessage        = "You have been logged out"
	loginFieldsErrorText = "Unable to log in. Check these fields for errors: "
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Begin(ctx context.Context, domain, redirectURI string) (string, error)
	Callback(ctx context.Context, domain, code, redirectURI string) (string, error)
}

// SessionCookies はセッションCookieを書き込む。
type SessionCookies interface {
	SetCookie(w http.ResponseWriter, token string, secure bool)
	Revoke(w http.ResponseWriter)
}

// DomainValidator はユーザーが入力したインスタンスのドメインを検証・正規化する。
type DomainValidator interface {
	ValidateDomain(raw string) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// AllowedHosts が空でない場合、redirect_uriのホストはこのいずれかでなければならない。
	AllowedHosts []string
}

// AuthHandler はログインフロー関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies SessionCookies
	domains DomainValidator
	pages   *PageHandler
	config  AuthHandlerConfig
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	service AuthServiceInterface,
	cookies SessionCookies,
	domains DomainValidator,
	pages *PageHandler,
	config AuthHandlerConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
		domains: domains,
		pages:   pages,
		config:  config,
		logger:  logger,
	}
}

// NewLogin はログインフォームを表示する。
// ?instance= が指定されている場合はフォームを経由せずにログインを開始する。
// ログイン済みの場合はホームへリダイレクトする。
// GET /login
func (h *AuthHandler) NewLogin(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserFromContext(r.Context()); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if instance := r.URL.Query().Get("instance"); instance != "" {
		h.begin(w, r, instance)
		return
	}
	h.renderLogin(w, r, http.StatusOK, "", nil)
}

// CreateLogin はフォームから送信されたインスタンスでログインを開始する。
// POST /login (instance または domain)
func (h *AuthHandler) CreateLogin(w http.ResponseWriter, r *http.Request) {
	instance := r.PostFormValue("instance")
	if instance == "" {
		instance = r.PostFormValue("domain")
	}
	h.begin(w, r, instance)
}

// begin はドメインを検証し、インスタンスの認可画面へリダイレクトする。
func (h *AuthHandler) begin(w http.ResponseWriter, r *http.Request, rawDomain string) {
	domain, err := h.domains.ValidateDomain(rawDomain)
	if err != nil {
		h.renderLogin(w, r, http.StatusUnprocessableEntity, rawDomain, []string{"instance: " + err.Error()})
		return
	}

	redirectURI, err := h.redirectURI(r, domain)
	if err != nil {
		h.logger.Warn("redirect uri rejected",
			slog.String("host", r.Host),
			slog.String("error", err.Error()),
		)
		flashRedirect(w, r, "/login", view.FlashError, "Error: "+err.Error())
		return
	}

	authorizeURL, err := h.service.Begin(r.Context(), domain, redirectURI)
	if err != nil {
		h.logger.Warn("failed to begin login",
			slog.String("domain", domain),
			slog.String("error", err.Error()),
		)
		flashRedirect(w, r, "/login", view.FlashError, "Error: "+model.Describe(err).Description)
		return
	}

	http.Redirect(w, r, authorizeURL, http.StatusSeeOther)
}

// Callback はインスタンスからのOAuthコールバックを処理する。
// GET /auth/{domain}?code=xxx
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	domain, err := h.domains.ValidateDomain(chi.URLParam(r, "domain"))
	if err != nil {
		h.pages.NotFound(w, r)
		return
	}

	redirectURI, err := h.redirectURI(r, domain)
	if err != nil {
		flashRedirect(w, r, "/", view.FlashError, "Error: "+err.Error())
		return
	}

	token, err := h.service.Callback(r.Context(), domain, r.URL.Query().Get("code"), redirectURI)
	if err != nil {
		if model.KindOf(err) == model.KindInvalidPath {
			h.pages.NotFound(w, r)
			return
		}
		flashRedirect(w, r, "/", view.FlashError, "Error: "+model.Describe(err).Description)
		return
	}

	h.cookies.SetCookie(w, token, isSecureRequest(r))
	flashRedirect(w, r, "/", view.FlashSuccess, loginSuccessMessage)
}

// Logout はセッションCookieを削除する。
// DELETE /logout, POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Revoke(w)
	flashRedirect(w, r, "/", view.FlashSuccess, logoutMessage)
}

func (h *AuthHandler) redirectURI(r *http.Request, domain string) (string, error) {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" && r.TLS != nil {
		proto = "https"
	}
	return auth.RedirectURI(r.Host, proto, domain, h.config.AllowedHosts)
}

// renderLogin はログインフォームを描画する。フィールドエラーがあればフラッシュにも列挙する。
func (h *AuthHandler) renderLogin(w http.ResponseWriter, r *http.Request, status int, value string, fieldErrors []string) {
	page := h.pages.newPage(w, r, "Log in")
	page.ShowTitle = true
	page.Login = &view.LoginForm{Instance: value, Errors: fieldErrors}
	if len(fieldErrors) > 0 {
		fields := make([]string, 0, len(fieldErrors))
		for _, fe := range fieldErrors {
			name, _, _ := strings.Cut(fe, ":")
			fields = append(fields, name)
		}
		page.Flash = &view.Flash{Kind: view.FlashError, Message: loginFieldsErrorText + strings.Join(fields, ", ")}
	}
	h.pages.render(w, r, status, view.PageLogin, page)
}
