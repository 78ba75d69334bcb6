package middleware

import (
	"context"
	"net/http"
)

// userIDSlotKey はロギングミドルウェアがユーザーIDを受け取るための書き込み先。
// セッションミドルウェアはロギングより内側で動くため、外側へ値を戻す手段として使う。
var userIDSlotKey = contextKey("user_id_slot")

func withUserIDSlot(ctx context.Context, slot *string) context.Context {
	return context.WithValue(ctx, userIDSlotKey, slot)
}

// NewUserIDReporter は認証済みユーザーIDをロギングミドルウェアへ渡すミドルウェアを返す。
// セッションミドルウェアの直後に配置する。
func NewUserIDReporter() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slot, ok := r.Context().Value(userIDSlotKey).(*string); ok {
				*slot = UserIDFromContext(r.Context())
			}
			next.ServeHTTP(w, r)
		})
	}
}
