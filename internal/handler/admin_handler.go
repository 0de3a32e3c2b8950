package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/donorlink/internal/admin"
	"github.com/hitoshi/donorlink/internal/model"
)

// AdminServiceInterface は管理者ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	// Authenticate はユーザー名とパスワードを検証する。
	Authenticate(ctx context.Context, username, password string) (*model.Admin, error)
	// Dashboard はダッシュボードの表示内容を返す。
	Dashboard(ctx context.Context) (*admin.Dashboard, error)
}

// RosterManager は管理者による献血者名簿の操作。
// donor.Serviceが実装する。
type RosterManager interface {
	// Delete は献血者を削除する。
	Delete(ctx context.Context, id int64) error
	// ExportCSV は全献血者をCSVとして書き出す。
	ExportCSV(ctx context.Context, w io.Writer) error
}

// AdminHandler は管理者画面のHTTPハンドラー。
type AdminHandler struct {
	service  AdminServiceInterface
	roster   RosterManager
	renderer *Renderer
	now      func() time.Time
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface, roster RosterManager, renderer *Renderer) *AdminHandler {
	return &AdminHandler{
		service:  service,
		roster:   roster,
		renderer: renderer,
		now:      time.Now,
	}
}

// adminLoginPage は管理者ログイン画面の表示内容。
type adminLoginPage struct {
	layoutData
	Username string
}

// dashboardPage はダッシュボードの表示内容。
type dashboardPage struct {
	layoutData
	Dashboard *admin.Dashboard
}

// Login は管理者ログインを処理する。ログイン済みならダッシュボードへ移動する。
// GET/POST /admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := sessionFrom(r)
	if state.Has(model.RoleAdmin) {
		redirect(w, r, "/admin/dashboard")
		return
	}

	page := adminLoginPage{layoutData: newLayout(r, "管理者ログイン")}
	if r.Method != http.MethodPost {
		h.renderer.Render(w, r, http.StatusOK, "admin_login.html", page)
		return
	}

	page.Username = r.PostFormValue("username")
	a, err := h.service.Authenticate(r.Context(), page.Username, r.PostFormValue("password"))
	if err != nil {
		status, apiErr := resolveServiceError(r, err)
		page.Error = apiErr
		h.renderer.Render(w, r, status, "admin_login.html", page)
		return
	}

	state.SetAdmin(a.ID, a.Username)
	slog.InfoContext(r.Context(), "admin logged in", slog.String("username", a.Username))
	redirect(w, r, "/admin/dashboard")
}

// Dashboard は集計値と献血者一覧を表示する。
// GET /admin/dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.service.Dashboard(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.renderer.Render(w, r, http.StatusOK, "admin_dashboard.html", dashboardPage{
		layoutData: newLayout(r, "管理画面"),
		Dashboard:  dashboard,
	})
}

// DeleteDonor は献血者を削除してダッシュボードへ戻る。存在しないIDは何もしない。
// POST /admin/donors/delete/{id}
func (h *AdminHandler) DeleteDonor(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("献血者IDが不正です"))
		return
	}

	if err := h.roster.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	redirect(w, r, "/admin/dashboard")
}

// ExportCSV は全献血者をCSVファイルとしてダウンロードさせる。
// GET /admin/export_csv
func (h *AdminHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.roster.ExportCSV(r.Context(), &buf); err != nil {
		handleServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("blood_donors_%s.csv", h.now().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// Logout は管理者の識別情報だけをセッションから取り除く。
// GET /admin/logout
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).ClearAdmin()
	redirect(w, r, "/")
}
