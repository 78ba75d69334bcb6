// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fediurl/internal/model"
	"github.com/hitoshi/fediurl/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("authenticated_user")

// Authenticator はセッショントークンから認証済みユーザーを構築する。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.AuthenticatedUser, error)
}

// NewSessionMiddleware はセッションCookieを検証し、認証済みユーザーを
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieが無い・無効・ユーザーが存在しない場合は未認証のまま次へ進む。
// 認証が必要かどうかの判断は各ハンドラーが行う。
func NewSessionMiddleware(authenticator Authenticator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := session.TokenFromRequest(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			user, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				if model.KindOf(err) == model.KindDatabase && !errors.Is(err, model.ErrNotFound) {
					logger.Error("failed to authenticate session",
						slog.String("error", err.Error()),
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.AuthenticatedUser, bool) {
	user, ok := ctx.Value(userContextKey).(*model.AuthenticatedUser)
	return user, ok && user != nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserIDFromContext は認証済みユーザーのIDを返す。未認証なら空文字列。
func UserIDFromContext(ctx context.Context) string {
	if user, ok := UserFromContext(ctx); ok {
		return user.ID()
	}
	return ""
}
