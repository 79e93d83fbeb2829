package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/pft/internal/flash"
	"github.com/hitoshi/pft/internal/middleware"
	"github.com/hitoshi/pft/internal/view"
)

// HealthChecker はデータベースの疎通確認に必要なインターフェース。
// *sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HomeHandler はホーム画面とヘルスチェックのHTTPハンドラー。
type HomeHandler struct {
	views  *view.Renderer
	health HealthChecker
}

// NewHomeHandler はHomeHandlerを生成する。healthがnilの場合は疎通確認を省略する。
func NewHomeHandler(views *view.Renderer, health HealthChecker) *HomeHandler {
	return &HomeHandler{views: views, health: health}
}

// Home はホーム画面を表示する。
// GET /
func (h *HomeHandler) Home(w http.ResponseWriter, r *http.Request) {
	renderPage(w, r, h.views, view.PageHome, "", nil, nil)
}

// Health はサーバーとデータベースの稼働状況を返す。
// GET /health
func (h *HomeHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// renderPage は現在の利用者、フラッシュメッセージ、CSRFトークンを添えてページを描画する。
func renderPage(w http.ResponseWriter, r *http.Request, views *view.Renderer, page, title string, form any, values map[string]any) {
	data := view.Data{
		Title:     title,
		User:      middleware.IdentityFromContext(r.Context()).User,
		Flashes:   flash.Consume(r.Context()),
		CSRFToken: middleware.CSRFToken(r.Context()),
		Form:      form,
		Values:    values,
	}
	// Renderは失敗時に何も書き込まないので、エラー応答より先に戻せばクッキーに残る
	if err := views.Render(w, http.StatusOK, page, data); err != nil {
		flash.Restore(r.Context(), data.Flashes)
		serverError(w, "failed to render page", err)
	}
}
