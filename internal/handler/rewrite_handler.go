package handler

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/fediurl/internal/middleware"
	"github.com/hitoshi/fediurl/internal/model"
	"github.com/hitoshi/fediurl/internal/security"
	"github.com/hitoshi/fediurl/internal/view"
)

const (
	rewritePrefix         = "/https:/"
	unauthenticatedNotice = "Log in to your instance to rewrite URLs"
)

// Rewriter はリモートURLをホームインスタンス上のURLに書き換える。
// 一致がない場合は (nil, nil) を返す。
type Rewriter interface {
	Rewrite(ctx context.Context, user *model.AuthenticatedUser, remoteURL string) (*url.URL, error)
}

// RewriteResponse はJSON版書き換えAPIの成功レスポンス。
type RewriteResponse struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
}

// RewriteHandler はURL書き換えのHTTPハンドラー。
type RewriteHandler struct {
	rewriter Rewriter
	pages    *PageHandler
}

// NewRewriteHandler はRewriteHandlerを生成する。
func NewRewriteHandler(rewriter Rewriter, pages *PageHandler) *RewriteHandler {
	return &RewriteHandler{
		rewriter: rewriter,
		pages:    pages,
	}
}

// Rewrite はパスに埋め込まれたリモートURLを書き換える。
// ブラウザ版は書き換え先へリダイレクトし、JSON版（?format=json または Accept: application/json）は
// 常に200で {"type": "Redirect"|"Error", ...} を返す。
// GET /https:/*
func (h *RewriteHandler) Rewrite(w http.ResponseWriter, r *http.Request) {
	asJSON := wantsJSON(r)
	remote := remoteURL(r)

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		if asJSON {
			middleware.WriteErrorResponse(w, http.StatusOK, model.Presentation{
				Status:      http.StatusUnauthorized,
				Code:        "unauthenticated",
				Description: unauthenticatedNotice,
			})
			return
		}
		flashRedirect(w, r, "/login", view.FlashError, unauthenticatedNotice)
		return
	}

	if _, err := security.ValidateRemoteURL(remote); err != nil {
		h.fail(w, r, asJSON, model.NewURLError("rewrite", err))
		return
	}

	destination, err := h.rewriter.Rewrite(r.Context(), user, remote)
	if err != nil {
		h.fail(w, r, asJSON, err)
		return
	}

	if destination == nil {
		if asJSON {
			middleware.WriteErrorResponse(w, http.StatusOK, model.Presentation{
				Status:      http.StatusNotFound,
				Code:        "no_match",
				Description: "No matching URL found",
			})
			return
		}
		h.pages.NotFound(w, r)
		return
	}

	if asJSON {
		middleware.WriteJSON(w, http.StatusOK, RewriteResponse{
			Type:        "Redirect",
			Destination: destination.String(),
		})
		return
	}
	http.Redirect(w, r, destination.String(), http.StatusSeeOther)
}

func (h *RewriteHandler) fail(w http.ResponseWriter, r *http.Request, asJSON bool, err error) {
	p := model.Describe(err)
	if asJSON {
		middleware.WriteErrorResponse(w, http.StatusOK, p)
		return
	}
	flashRedirect(w, r, "/", view.FlashError, "Error: "+p.Description)
}

// remoteURL はリクエストパスからリモートURLを復元する。
// 先頭のスラッシュを除き、formatパラメータ以外のクエリはそのまま残す。
// 経路上でスラッシュが1つに畳まれた "https:/host" は "https://host" に戻す。
func remoteURL(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/")
	if rest, ok := strings.CutPrefix(path, "https:/"); ok && !strings.HasPrefix(rest, "/") {
		path = "https://" + rest
	}

	if query := stripFormat(r.URL.RawQuery); query != "" {
		return path + "?" + query
	}
	return path
}

// stripFormat は生のクエリ文字列から format パラメータだけを取り除く。
// 他のパラメータの順序とエンコーディングは変えない。
func stripFormat(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	kept := make([]string, 0, 4)
	for _, pair := range strings.Split(rawQuery, "&") {
		key, _, _ := strings.Cut(pair, "=")
		if key == "format" {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// wantsJSON は ?format=json またはAcceptヘッダーでJSONが要求されているかを判定する。
func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	for _, accept := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(accept))
		if err != nil {
			continue
		}
		if mediaType == "application/json" {
			return true
		}
		if mediaType == "text/html" {
			return false
		}
	}
	return false
}
