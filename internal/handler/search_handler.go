package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/otp"
	"github.com/hitoshi/donorlink/internal/search"
)

// SearchServiceInterface は検索ハンドラーが必要とするサービスインターフェース。
type SearchServiceInterface interface {
	// Search は検索者のコードを照合して献血者を検索する。
	Search(ctx context.Context, slot otp.Slot, q search.Query) ([]*model.Donor, error)
}

// SearchHandler は献血者検索のHTTPハンドラー。
type SearchHandler struct {
	service         SearchServiceInterface
	renderer        *Renderer
	channel         model.ContactKind
	validityMinutes int
}

// NewSearchHandler はSearchHandlerを生成する。
func NewSearchHandler(service SearchServiceInterface, renderer *Renderer, channel model.ContactKind, validityMinutes int) *SearchHandler {
	return &SearchHandler{
		service:         service,
		renderer:        renderer,
		channel:         channel,
		validityMinutes: validityMinutes,
	}
}

// searchPage は検索画面の表示内容。
type searchPage struct {
	layoutData
	Form            url.Values
	Contact         string
	Channel         model.ContactKind
	ValidityMinutes int
	BloodGroups     []model.BloodGroup
	Performed       bool
	Donors          []*model.Donor
}

// Search は検索フォームを表示し、検索者情報がそろっている場合だけ検索する。
// GET /search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := search.Query{
		SeekerName:    params.Get("seeker_name"),
		SeekerID:      params.Get("seeker_id"),
		SeekerContact: firstValue(r, "seeker_contact", "seeker_phone", "seeker_email"),
		Code:          params.Get("otp"),
		BloodGroup:    params.Get("bg"),
		Area:          params.Get("area"),
	}

	page := searchPage{
		layoutData:      newLayout(r, "献血者を探す"),
		Form:            params,
		Contact:         q.SeekerContact,
		Channel:         h.channel,
		ValidityMinutes: h.validityMinutes,
		BloodGroups:     model.BloodGroups(),
	}
	if !q.Requested() {
		h.renderer.Render(w, r, http.StatusOK, "search.html", page)
		return
	}

	donors, err := h.service.Search(r.Context(), sessionFrom(r), q)
	if err != nil {
		status, apiErr := resolveServiceError(r, err)
		page.Error = apiErr
		h.renderer.Render(w, r, status, "search.html", page)
		return
	}

	page.Performed = true
	page.Donors = donors
	h.renderer.Render(w, r, http.StatusOK, "search.html", page)
}
