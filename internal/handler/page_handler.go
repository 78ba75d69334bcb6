package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fediurl/internal/auth"
	"github.com/hitoshi/fediurl/internal/middleware"
	"github.com/hitoshi/fediurl/internal/model"
	"github.com/hitoshi/fediurl/internal/view"
)

// Renderer はHTMLページを描画する。
type Renderer interface {
	Render(w http.ResponseWriter, status int, name string, page view.Page) error
}

// InstanceLookup はIDからインスタンスを取得する。
type InstanceLookup interface {
	FindByID(ctx context.Context, id string) (*model.Instance, error)
}

// PageHandler はホーム、プライバシー、エラーページを提供する。
type PageHandler struct {
	renderer  Renderer
	instances InstanceLookup
	logger    *slog.Logger
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(renderer Renderer, instances InstanceLookup, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		renderer:  renderer,
		instances: instances,
		logger:    logger,
	}
}

// Home はホームページを表示する。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	page := h.newPage(w, r, "Home")
	if user, ok := middleware.UserFromContext(r.Context()); ok {
		instance, err := h.instances.FindByID(r.Context(), user.InstanceID())
		if err != nil {
			h.logger.Error("failed to load home instance",
				slog.String("user_id", user.ID()),
				slog.String("error", err.Error()),
			)
			h.InternalError(w, r)
			return
		}
		page.InstanceDomain = instance.Domain
	}
	h.render(w, r, http.StatusOK, view.PageHome, page)
}

// Privacy はプライバシーポリシーを表示する。
// GET /privacy
func (h *PageHandler) Privacy(w http.ResponseWriter, r *http.Request) {
	page := h.newPage(w, r, "Privacy")
	page.ShowTitle = true
	h.render(w, r, http.StatusOK, view.PagePrivacy, page)
}

// NotFound は404ページを表示する。JSONを要求するクライアントにはJSONで返す。
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.Presentation{
			Status:      http.StatusNotFound,
			Code:        "not_found",
			Description: "The requested resource could not be found.",
		})
		return
	}
	page := h.newPage(w, r, "Not Found")
	page.ShowTitle = true
	h.render(w, r, http.StatusNotFound, view.PageNotFound, page)
}

// InternalError は500ページを表示する。
func (h *PageHandler) InternalError(w http.ResponseWriter, r *http.Request) {
	page := view.Page{Title: "Internal Server Error", ShowTitle: true}
	if err := h.renderer.Render(w, http.StatusInternalServerError, view.PageError, page); err != nil {
		h.logger.Error("failed to render error page", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// newPage はレイアウト共通のデータ（フラッシュ、ログイン状態、CSRFトークン）を組み立てる。
func (h *PageHandler) newPage(w http.ResponseWriter, r *http.Request, title string) view.Page {
	_, signedIn := middleware.UserFromContext(r.Context())
	return view.Page{
		Title:     title,
		Flash:     popFlash(w, r),
		SignedIn:  signedIn,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	}
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, name string, page view.Page) {
	if err := h.renderer.Render(w, status, name, page); err != nil {
		h.logger.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		h.InternalError(w, r)
	}
}

// isSecureRequest はリクエストが暗号化された経路で届いたかどうかを返す。
func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return auth.IsSecure(r.Header.Get("X-Forwarded-Proto"))
}
