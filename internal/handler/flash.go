package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/fediurl/internal/security"
	"github.com/hitoshi/fediurl/internal/view"
)

// FlashCookieName は次のページ表示で一度だけ表示するメッセージを運ぶCookie。
const FlashCookieName = "FEDIURL_FLASH"

const flashMaxAge = 60

// flashText はCookieに載せる前のメッセージからマークアップを除き、長さを制限する。
// リモートインスタンスのエラー説明がそのまま含まれることがある。
var flashText = security.NewTextSanitizer()

// setFlash はフラッシュメッセージをCookieに保存する。
func setFlash(w http.ResponseWriter, kind, message string, secure bool) {
	data, err := json.Marshal(view.Flash{Kind: kind, Message: flashText.Sanitize(message)})
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		MaxAge:   flashMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash はフラッシュメッセージを取り出し、Cookieを削除する。
// 壊れた値は無視する。
func popFlash(w http.ResponseWriter, r *http.Request) *view.Flash {
	cookie, err := r.Cookie(FlashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	data, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var flash view.Flash
	if err := json.Unmarshal(data, &flash); err != nil || flash.Message == "" {
		return nil
	}
	if flash.Kind != view.FlashSuccess {
		flash.Kind = view.FlashError
	}
	return &flash
}

// flashRedirect はフラッシュメッセージを設定して303でリダイレクトする。
func flashRedirect(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	setFlash(w, kind, message, isSecureRequest(r))
	http.Redirect(w, r, location, http.StatusSeeOther)
}
