package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/hitoshi/donorlink/internal/donor"
	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/otp"
)

// DonorServiceInterface は献血者ハンドラーが必要とするサービスインターフェース。
type DonorServiceInterface interface {
	// Channel はワンタイムコードの送付先として使う連絡手段を返す。
	Channel() model.ContactKind
	// Register は本人確認済みの献血者を登録する。
	Register(ctx context.Context, slot otp.Slot, reg donor.Registration) (*model.Donor, error)
	// Login は本人確認して献血者を返す。
	Login(ctx context.Context, slot otp.Slot, contact, code string) (*model.Donor, error)
	// Get は献血者を取得する。
	Get(ctx context.Context, id int64) (*model.Donor, error)
	// UpdateProfile はプロフィールを更新する。
	UpdateProfile(ctx context.Context, id int64, profile model.DonorProfile) error
	// ToggleAvailability は検索結果への表示可否を反転する。
	ToggleAvailability(ctx context.Context, id int64) (bool, error)
}

// DonorHandler は献血者の登録・ログイン・プロフィール管理のHTTPハンドラー。
type DonorHandler struct {
	service         DonorServiceInterface
	renderer        *Renderer
	validityMinutes int
}

// NewDonorHandler はDonorHandlerを生成する。
func NewDonorHandler(service DonorServiceInterface, renderer *Renderer, validityMinutes int) *DonorHandler {
	return &DonorHandler{
		service:         service,
		renderer:        renderer,
		validityMinutes: validityMinutes,
	}
}

// registerPage は登録画面の表示内容。
type registerPage struct {
	layoutData
	Form            url.Values
	Channel         model.ContactKind
	ValidityMinutes int
	BloodGroups     []model.BloodGroup
}

// donorLoginPage は献血者ログイン画面の表示内容。
type donorLoginPage struct {
	layoutData
	Contact         string
	Channel         model.ContactKind
	ValidityMinutes int
}

// donorProfilePage はプロフィール画面の表示内容。
type donorProfilePage struct {
	layoutData
	Donor *model.Donor
}

// donorEditPage はプロフィール編集画面の表示内容。
type donorEditPage struct {
	layoutData
	Donor       *model.Donor
	BloodGroups []model.BloodGroup
}

// toggleResponse は表示状態切り替えのレスポンス。
type toggleResponse struct {
	Success   bool   `json:"success"`
	NewStatus string `json:"new_status"`
}

// Register は登録フォームの表示と登録を処理する。
// GET/POST /register
func (h *DonorHandler) Register(w http.ResponseWriter, r *http.Request) {
	page := registerPage{
		layoutData:      newLayout(r, "献血者登録"),
		Channel:         h.service.Channel(),
		ValidityMinutes: h.validityMinutes,
		BloodGroups:     model.BloodGroups(),
	}
	if r.Method != http.MethodPost {
		h.renderer.Render(w, r, http.StatusOK, "register.html", page)
		return
	}

	if err := r.ParseForm(); err != nil {
		page.Error = model.NewValidationError("フォームの解析に失敗しました")
		h.renderer.Render(w, r, http.StatusBadRequest, "register.html", page)
		return
	}
	page.Form = r.PostForm

	profile, err := parseProfileForm(r)
	if err == nil {
		_, err = h.service.Register(r.Context(), sessionFrom(r), donor.Registration{
			Name:           profile.Name,
			Email:          profile.Email,
			Phone:          r.PostFormValue("phone"),
			Area:           profile.Area,
			BloodGroup:     profile.BloodGroup,
			BloodAvailable: profile.BloodAvailable,
			Age:            profile.Age,
			Gender:         profile.Gender,
			Weight:         profile.Weight,
			HealthStatus:   profile.HealthStatus,
			Code:           r.PostFormValue("otp"),
		})
	}
	if err != nil {
		status, apiErr := resolveServiceError(r, err)
		page.Error = apiErr
		h.renderer.Render(w, r, status, "register.html", page)
		return
	}

	redirect(w, r, "/?success=1")
}

// Login は献血者ログインを処理する。ログイン済みならプロフィールへ移動する。
// GET/POST /donor/login
func (h *DonorHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := sessionFrom(r)
	if state.Has(model.RoleDonor) {
		redirect(w, r, "/donor/profile")
		return
	}

	page := donorLoginPage{
		layoutData:      newLayout(r, "献血者ログイン"),
		Channel:         h.service.Channel(),
		ValidityMinutes: h.validityMinutes,
	}
	if r.Method != http.MethodPost {
		h.renderer.Render(w, r, http.StatusOK, "donor_login.html", page)
		return
	}

	page.Contact = firstValue(r, "contact", "phone", "email")
	d, err := h.service.Login(r.Context(), state, page.Contact, r.PostFormValue("otp"))
	if err != nil {
		status, apiErr := resolveServiceError(r, err)
		page.Error = apiErr
		h.renderer.Render(w, r, status, "donor_login.html", page)
		return
	}

	state.SetDonor(d.ID, d.Name)
	redirect(w, r, "/donor/profile")
}

// Profile はログイン中の献血者のプロフィールを表示する。
// GET /donor/profile
func (h *DonorHandler) Profile(w http.ResponseWriter, r *http.Request) {
	d, ok := h.currentDonor(w, r)
	if !ok {
		return
	}
	h.renderer.Render(w, r, http.StatusOK, "donor_profile.html", donorProfilePage{
		layoutData: newLayout(r, "プロフィール"),
		Donor:      d,
	})
}

// Edit はプロフィール編集フォームの表示と更新を処理する。
// GET/POST /donor/edit
func (h *DonorHandler) Edit(w http.ResponseWriter, r *http.Request) {
	d, ok := h.currentDonor(w, r)
	if !ok {
		return
	}

	page := donorEditPage{
		layoutData:  newLayout(r, "プロフィール編集"),
		Donor:       d,
		BloodGroups: model.BloodGroups(),
	}
	if r.Method != http.MethodPost {
		h.renderer.Render(w, r, http.StatusOK, "donor_edit.html", page)
		return
	}

	profile, err := parseProfileForm(r)
	if err == nil {
		err = h.service.UpdateProfile(r.Context(), d.ID, profile)
	}
	if err != nil {
		status, apiErr := resolveServiceError(r, err)
		page.Error = apiErr
		page.Donor = applyProfile(d, profile)
		h.renderer.Render(w, r, status, "donor_edit.html", page)
		return
	}

	updated, err := h.service.Get(r.Context(), d.ID)
	if err == nil {
		sessionFrom(r).SetDonorName(updated.Name)
	}
	redirect(w, r, "/donor/profile")
}

// ToggleAvailability は検索結果への表示可否を切り替える。
// POST /donor/toggle_availability
func (h *DonorHandler) ToggleAvailability(w http.ResponseWriter, r *http.Request) {
	id := sessionFrom(r).DonorID()
	available, err := h.service.ToggleAvailability(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toggleResponse{
		Success:   true,
		NewStatus: model.YesNo(available),
	})
}

// Logout は献血者の識別情報だけをセッションから取り除く。
// GET /donor/logout
func (h *DonorHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).ClearDonor()
	redirect(w, r, "/")
}

// currentDonor はセッションの献血者を取得する。
// 管理者に削除済みの場合はログイン状態を解除してログイン画面へ移動する。
func (h *DonorHandler) currentDonor(w http.ResponseWriter, r *http.Request) (*model.Donor, bool) {
	state := sessionFrom(r)
	d, err := h.service.Get(r.Context(), state.DonorID())
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeNotFound {
			state.ClearDonor()
			redirect(w, r, model.RoleDonor.LoginPath())
			return nil, false
		}
		status, apiErr := resolveServiceError(r, err)
		writeAPIErrorResponse(w, status, apiErr)
		return nil, false
	}
	return d, true
}

// applyProfile は再表示用に入力内容を献血者に重ねた複製を返す。
func applyProfile(d *model.Donor, p model.DonorProfile) *model.Donor {
	c := *d
	c.Name = p.Name
	c.Email = p.Email
	c.Area = p.Area
	c.BloodGroup = model.BloodGroup(p.BloodGroup)
	c.BloodAvailable = p.BloodAvailable
	c.Age = p.Age
	c.Gender = p.Gender
	c.Weight = p.Weight
	c.HealthStatus = p.HealthStatus
	return &c
}
