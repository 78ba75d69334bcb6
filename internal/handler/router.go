package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/fediurl/internal/metrics"
	"github.com/hitoshi/fediurl/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector

	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CookieSecure      bool

	// ページ
	Renderer  Renderer
	Instances InstanceLookup

	// 認証
	AuthService AuthServiceInterface
	Cookies     SessionCookies
	Domains     DomainValidator
	AuthConfig  AuthHandlerConfig

	// 書き換え
	Rewriter Rewriter

	HealthChecker HealthChecker
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → ResponseTime → Logging → Recovery → SecurityHeaders → Session → UserIDReporter
//
// HTMLフォームを扱うページにはCSRF、ログイン開始と書き換えにはレート制限を追加する。
// DELETE /logout はCSRFトークンを要求せず、クロスオリジンのリクエストだけを拒否する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pages := NewPageHandler(deps.Renderer, deps.Instances, logger)
	authHandler := NewAuthHandler(deps.AuthService, deps.Cookies, deps.Domains, pages, deps.AuthConfig, logger)
	rewriteHandler := NewRewriteHandler(deps.Rewriter, pages)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewResponseTimeMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(logger, pages.InternalError))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewSessionMiddleware(deps.Authenticator, logger))
	r.Use(middleware.NewUserIDReporter())

	r.NotFound(pages.NotFound)
	r.MethodNotAllowed(pages.NotFound)

	r.Get("/health", HealthHandler(deps.HealthChecker, logger))

	// --- HTMLページ（CSRF保護） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{CookieSecure: deps.CookieSecure}))

		r.Get("/", pages.Home)
		r.Get("/privacy", pages.Privacy)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Get("/login", authHandler.NewLogin)
			r.Post("/login", authHandler.CreateLogin)
		})

		r.Post("/logout", authHandler.Logout)
	})

	// 本文なしのDELETEはトークンの代わりにオリジンを検査する
	r.With(middleware.NewCrossOriginMiddleware()).Delete("/logout", authHandler.Logout)

	// OAuthコールバック（インスタンスからのリダイレクト）
	r.Get("/auth/{domain}", authHandler.Callback)

	// --- URL書き換え ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(deps.RateLimiter.RewriteMiddleware())
		r.Get(rewritePrefix+"*", rewriteHandler.Rewrite)
		r.Options(rewritePrefix+"*", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}
