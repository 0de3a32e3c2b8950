package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// DonorCounter はトップページに表示する登録者数を返す。
type DonorCounter interface {
	Count(ctx context.Context) (int, error)
}

// HomeHandler はトップページとヘルスチェックのHTTPハンドラー。
type HomeHandler struct {
	counter  DonorCounter
	renderer *Renderer
	ping     func(ctx context.Context) error
}

// NewHomeHandler はHomeHandlerを生成する。pingがnilの場合は常に正常とみなす。
func NewHomeHandler(counter DonorCounter, renderer *Renderer, ping func(ctx context.Context) error) *HomeHandler {
	return &HomeHandler{
		counter:  counter,
		renderer: renderer,
		ping:     ping,
	}
}

// homePage はトップページの表示内容。
type homePage struct {
	layoutData
	DonorCount int
	Success    bool
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
}

// Home は登録者数を表示する。登録直後は完了メッセージを表示する。
// GET /
func (h *HomeHandler) Home(w http.ResponseWriter, r *http.Request) {
	count, err := h.counter.Count(r.Context())
	if err != nil {
		status, apiErr := resolveServiceError(r, err)
		page := homePage{layoutData: newLayout(r, "トップ")}
		page.Error = apiErr
		h.renderer.Render(w, r, status, "home.html", page)
		return
	}

	h.renderer.Render(w, r, http.StatusOK, "home.html", homePage{
		layoutData: newLayout(r, "トップ"),
		DonorCount: count,
		Success:    r.URL.Query().Get("success") == "1",
	})
}

// Health はストアへの疎通を確認する。
// GET /health
func (h *HomeHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
