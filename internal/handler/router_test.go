package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/donorlink/internal/admin"
	"github.com/hitoshi/donorlink/internal/delivery"
	"github.com/hitoshi/donorlink/internal/donor"
	"github.com/hitoshi/donorlink/internal/metrics"
	"github.com/hitoshi/donorlink/internal/middleware"
	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/otp"
	"github.com/hitoshi/donorlink/internal/repository"
	"github.com/hitoshi/donorlink/internal/search"
	"github.com/hitoshi/donorlink/internal/security"
	"github.com/hitoshi/donorlink/internal/session"
)

// --- 統合テスト用の送信チャネル ---

// recordingSender は送信したコードを送付先ごとに記録する。
type recordingSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{codes: make(map[string]string)}
}

func (s *recordingSender) Send(ctx context.Context, msg delivery.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[msg.To] = msg.Code
	return nil
}

func (s *recordingSender) Channel() string { return "test" }

func (s *recordingSender) codeFor(contact string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[contact]
}

// --- 統合テスト用ルーター構築ヘルパー ---

type testApp struct {
	server *httptest.Server
	store  *repository.Store
	sender *recordingSender
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T) *testApp {
	return newTestAppWith(t, model.ContactPhone, middleware.DefaultRateLimiterConfig())
}

func newTestAppWith(t *testing.T, channel model.ContactKind, limits middleware.RateLimiterConfig) *testApp {
	t.Helper()

	logger := discardLogger()
	store := repository.NewMemoryStore()
	sender := newRecordingSender()
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	verifier := otp.NewVerifier(sender, collector, logger, otp.Config{ValidityMinutes: 5})
	donorService := donor.NewService(store.Donors, verifier, security.NewInputSanitizer(), channel, collector, logger)
	adminService := admin.NewService(store.Admins, store.SearchLogs, donorService, logger)
	searchService := search.NewService(verifier, donorService, store.SearchLogs, collector, logger)

	router := NewRouter(&RouterDeps{
		SessionStore:  session.NewManager(store.Sessions, session.Config{Secret: []byte("test-secret"), MaxAge: 3600}),
		RateLimiter:   middleware.NewRateLimiter(limits),
		Logger:        logger,
		Metrics:       collector,
		Gatherer:      registry,
		Ping:          store.Ping,
		DonorService:  donorService,
		AdminService:  adminService,
		SearchService: searchService,
		OTPIssuer:     verifier,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testApp{server: server, store: store, sender: sender}
}

// seedAdmin はテスト用の管理者を最小コストのハッシュで作成する。
func (a *testApp) seedAdmin(t *testing.T, username, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if err := a.store.Admins.Create(context.Background(), &model.Admin{Username: username, PasswordHash: string(hash)}); err != nil {
		t.Fatalf("create admin: %v", err)
	}
}

func (a *testApp) donorByPhone(t *testing.T, phone string) *model.Donor {
	t.Helper()
	d, err := a.store.Donors.FindByContact(context.Background(), model.ContactPhone, phone)
	if err != nil || d == nil {
		t.Fatalf("donor %s not found: %v", phone, err)
	}
	return d
}

func (a *testApp) searchCount(t *testing.T) int {
	t.Helper()
	n, err := a.store.SearchLogs.Count(context.Background())
	if err != nil {
		t.Fatalf("count search logs: %v", err)
	}
	return n
}

// browser はCookieを保持する1クライアント。リダイレクトは追わない。
type browser struct {
	t      *testing.T
	app    *testApp
	client *http.Client
}

func (a *testApp) newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &browser{
		t:   t,
		app: a,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		b.t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, b.app.server.URL+path, nil)
	return b.do(req)
}

// csrfToken はCSRF Cookieの値を返す。未発行ならトップページを開いて取得する。
func (b *browser) csrfToken() string {
	b.t.Helper()
	u, _ := url.Parse(b.app.server.URL)
	for i := 0; i < 2; i++ {
		for _, c := range b.client.Jar.Cookies(u) {
			if c.Name == "csrf_token" {
				return c.Value
			}
		}
		b.get("/")
	}
	b.t.Fatal("csrf cookie was not issued")
	return ""
}

func (b *browser) postForm(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	form.Set(middleware.CSRFFormField, b.csrfToken())
	req, _ := http.NewRequest(http.MethodPost, b.app.server.URL+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postJSON(path string, body any) (*http.Response, string) {
	b.t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, b.app.server.URL+path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", b.csrfToken())
	return b.do(req)
}

// sendOTP はcontact宛てにコードを発行させ、送信されたコードを返す。
func (b *browser) sendOTP(contact string) string {
	b.t.Helper()
	resp, body := b.postJSON("/send_otp", map[string]string{"contact": contact})
	if resp.StatusCode != http.StatusOK {
		b.t.Fatalf("POST /send_otp status = %d, body = %s", resp.StatusCode, body)
	}
	code := b.app.sender.codeFor(contact)
	if code == "" {
		b.t.Fatalf("no code delivered to %s", contact)
	}
	return code
}

func registrationForm(name, phone, area, bg, code string) url.Values {
	return url.Values{
		"name":        {name},
		"phone":       {phone},
		"area":        {area},
		"blood_group": {bg},
		"otp":         {code},
	}
}

// registerDonor はコード発行から登録完了までを行う。
func (b *browser) registerDonor(name, phone, area, bg string) {
	b.t.Helper()
	code := b.sendOTP(phone)
	resp, body := b.postForm("/register", registrationForm(name, phone, area, bg, code))
	if resp.StatusCode != http.StatusSeeOther {
		b.t.Fatalf("POST /register status = %d, body = %s", resp.StatusCode, body)
	}
}

func assertRedirect(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	if got := resp.Header.Get("Location"); got != location {
		t.Errorf("Location = %q, want %q", got, location)
	}
}

// --- 運用エンドポイント ---

func TestNewRouter_Health(t *testing.T) {
	app := newTestApp(t)
	resp, body := app.newBrowser(t).get("/health")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got healthResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil || got.Status != "ok" {
		t.Errorf("body = %s", body)
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)
	b.registerDonor("Rahim", "01700000001", "North Hall", "A+")

	resp, body := b.get("/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	for _, want := range []string{
		"donorlink_registrations_total 1",
		"donorlink_otp_issued_total 1",
		`donorlink_otp_verifications_total{result="success"} 1`,
		`donorlink_http_status_total{status_code="303"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

// --- トップページ・登録 ---

func TestNewRouter_Home_ShowsDonorCount(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)

	resp, body := b.get("/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "<strong>0</strong>") {
		t.Error("expected donor count 0")
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("security headers should be set")
	}
}

func TestNewRouter_Register_Success(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)

	code := b.sendOTP("01700000001")
	resp, _ := b.postForm("/register", registrationForm("Rahim", "01700000001", "North Hall", "a+", code))
	assertRedirect(t, resp, "/?success=1")

	_, body := b.get("/?success=1")
	if !strings.Contains(body, "<strong>1</strong>") {
		t.Error("expected donor count 1")
	}
	if !strings.Contains(body, "献血者登録が完了しました") {
		t.Error("expected success banner")
	}

	d := app.donorByPhone(t, "01700000001")
	if d.BloodGroup != model.BloodGroupAPos || !d.IsAvailable || !d.BloodAvailable {
		t.Errorf("stored donor = %+v", d)
	}
}

func TestNewRouter_Register_CodeIsSingleUse(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)

	code := b.sendOTP("01700000001")
	resp, _ := b.postForm("/register", registrationForm("Rahim", "01700000001", "North Hall", "A+", code))
	assertRedirect(t, resp, "/?success=1")

	resp, body := b.postForm("/register", registrationForm("Rahim", "01700000001", "North Hall", "A+", code))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused code status = %d, want 401", resp.StatusCode)
	}
	if !strings.Contains(body, "確認コードが発行されていないか") {
		t.Error("expected expired-code message")
	}
}

func TestNewRouter_Register_Errors(t *testing.T) {
	tests := []struct {
		name       string
		form       func(code string) url.Values
		wantStatus int
	}{
		{
			name: "missing name",
			form: func(code string) url.Values {
				return registrationForm("", "01700000001", "North Hall", "A+", code)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid age",
			form: func(code string) url.Values {
				f := registrationForm("Rahim", "01700000001", "North Hall", "A+", code)
				f.Set("age", "abc")
				return f
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "wrong code",
			form: func(code string) url.Values {
				wrong := "1000"
				if code == wrong {
					wrong = "1001"
				}
				return registrationForm("Rahim", "01700000001", "North Hall", "A+", wrong)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "contact changed after issue",
			form: func(code string) url.Values {
				return registrationForm("Rahim", "01799999999", "North Hall", "A+", code)
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)
			b := app.newBrowser(t)
			code := b.sendOTP("01700000001")

			resp, body := b.postForm("/register", tt.form(code))
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if !strings.Contains(body, `value="Rahim"`) && tt.name != "missing name" {
				t.Error("form values should be kept on re-render")
			}

			// 失敗した送信ではコードを消費しない
			resp, _ = b.postForm("/register", registrationForm("Rahim", "01700000001", "North Hall", "A+", code))
			assertRedirect(t, resp, "/?success=1")
		})
	}
}

func TestNewRouter_Register_DuplicatePhone_Returns409(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)
	b.registerDonor("Rahim", "01700000001", "North Hall", "A+")

	code := b.sendOTP("01700000001")
	resp, _ := b.postForm("/register", registrationForm("Karim", "01700000001", "South Hall", "B+", code))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

// --- ワンタイムコード ---

func TestNewRouter_SendOTP_ResponseOmitsCode(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)

	resp, body := b.postJSON("/send_otp", map[string]string{"phone": "01700000001"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got sendOTPResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil || !got.Success {
		t.Fatalf("body = %s", body)
	}
	code := app.sender.codeFor("01700000001")
	if code == "" || strings.Contains(body, code) {
		t.Errorf("code must reach only the delivery channel: body = %s", body)
	}
}

func TestNewRouter_SendOTP_EmptyContact_Returns400(t *testing.T) {
	app := newTestApp(t)
	resp, body := app.newBrowser(t).postJSON("/send_otp", map[string]string{})

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if !strings.Contains(body, model.ErrCodeValidation) || !strings.Contains(body, `"success":false`) {
		t.Errorf("body = %s", body)
	}
}

func TestNewRouter_SendOTP_WithoutCSRF_Returns403(t *testing.T) {
	app := newTestApp(t)
	req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/send_otp", strings.NewReader(`{"contact":"0170"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, _ := app.newBrowser(t).do(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestNewRouter_SendOTP_RateLimited(t *testing.T) {
	app := newTestAppWith(t, model.ContactPhone, middleware.PerMinuteRateLimiterConfig(2, 20))
	b := app.newBrowser(t)

	b.sendOTP("01700000001")
	b.sendOTP("01700000001")
	resp, _ := b.postJSON("/send_otp", map[string]string{"contact": "01700000001"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q, want 30", resp.Header.Get("Retry-After"))
	}
}

func TestNewRouter_Sessions_AreIsolated(t *testing.T) {
	app := newTestApp(t)
	alice := app.newBrowser(t)
	bob := app.newBrowser(t)

	code := alice.sendOTP("01700000001")
	resp, _ := bob.postForm("/register", registrationForm("Bob", "01700000001", "North Hall", "A+", code))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("other session's code status = %d, want 401", resp.StatusCode)
	}

	resp, _ = alice.postForm("/register", registrationForm("Alice", "01700000001", "North Hall", "A+", code))
	assertRedirect(t, resp, "/?success=1")
}

// --- 検索 ---

func searchPath(params url.Values) string {
	return "/search?" + params.Encode()
}

func TestNewRouter_Search_FormOnlyPerformsNoSearch(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)
	b.registerDonor("Rahim", "01700000001", "North Hall", "A+")

	resp, body := b.get("/search?bg=A%2B&seeker_name=Seeker")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if strings.Contains(body, "01700000001") || strings.Contains(body, "検索結果 (") {
		t.Error("incomplete form must not show results")
	}
	if n := app.searchCount(t); n != 0 {
		t.Errorf("search logs = %d, want 0", n)
	}
}

func TestNewRouter_Search_VerifiedSeekerSeesContacts(t *testing.T) {
	app := newTestApp(t)
	donorBrowser := app.newBrowser(t)
	donorBrowser.registerDonor("Rahim", "01700000001", "North Hall", "A+")
	donorBrowser.registerDonor("Karim", "01700000002", "South Hall", "A+")
	donorBrowser.registerDonor("Salma", "01700000003", "North Wing", "B+")

	seeker := app.newBrowser(t)
	code := seeker.sendOTP("01800000000")
	params := url.Values{
		"seeker_name":  {"Seeker"},
		"seeker_id":    {"S-1"},
		"seeker_phone": {"01800000000"},
		"otp":          {code},
		"bg":           {"A+"},
		"area":         {"NORTH"},
	}

	resp, body := seeker.get(searchPath(params))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, "01700000001") {
		t.Error("matching donor contact should be shown")
	}
	if strings.Contains(body, "01700000002") || strings.Contains(body, "01700000003") {
		t.Error("non-matching donors should be filtered out")
	}
	if n := app.searchCount(t); n != 1 {
		t.Errorf("search logs = %d, want 1", n)
	}

	// 同じコードでの再検索は失敗し、記録もされない
	resp, _ = seeker.get(searchPath(params))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused code status = %d, want 401", resp.StatusCode)
	}
	if n := app.searchCount(t); n != 1 {
		t.Errorf("search logs = %d, want 1", n)
	}
}

func TestNewRouter_Search_HiddenDonorIsExcluded(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)
	b.registerDonor("Rahim", "01700000001", "North Hall", "A+")

	code := b.sendOTP("01700000001")
	resp, _ := b.postForm("/donor/login", url.Values{"contact": {"01700000001"}, "otp": {code}})
	assertRedirect(t, resp, "/donor/profile")
	resp, _ = b.postForm("/donor/toggle_availability", url.Values{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle status = %d", resp.StatusCode)
	}

	code = b.sendOTP("01800000000")
	_, body := b.get(searchPath(url.Values{
		"seeker_name":    {"Seeker"},
		"seeker_id":      {"S-1"},
		"seeker_contact": {"01800000000"},
		"otp":            {code},
	}))
	if strings.Contains(body, "01700000001") {
		t.Error("hidden donor must not appear in results")
	}
	if !strings.Contains(body, "検索結果 (0件)") {
		t.Error("expected empty result heading")
	}
}

func TestNewRouter_Search_UnknownBloodGroup_Returns400(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)

	code := b.sendOTP("01800000000")
	resp, _ := b.get(searchPath(url.Values{
		"seeker_name":    {"Seeker"},
		"seeker_id":      {"S-1"},
		"seeker_contact": {"01800000000"},
		"otp":            {code},
		"bg":             {"C+"},
	}))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if n := app.searchCount(t); n != 0 {
		t.Errorf("search logs = %d, want 0", n)
	}
}

// --- 献血者本人 ---

func TestNewRouter_GuardsRedirectToLogin(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)

	tests := []struct {
		path     string
		location string
	}{
		{"/donor/profile", "/donor/login"},
		{"/donor/edit", "/donor/login"},
		{"/admin/dashboard", "/admin/login"},
		{"/admin/export_csv", "/admin/login"},
	}
	for _, tt := range tests {
		resp, _ := b.get(tt.path)
		assertRedirect(t, resp, tt.location)
	}

	resp, _ := b.postForm("/donor/toggle_availability", url.Values{})
	assertRedirect(t, resp, "/donor/login")
	resp, _ = b.postForm("/admin/donors/delete/1", url.Values{})
	assertRedirect(t, resp, "/admin/login")
}

func TestNewRouter_DonorLifecycle(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)
	b.registerDonor("Rahim", "01700000001", "North Hall", "A+")

	// 1. ログイン
	code := b.sendOTP("01700000001")
	resp, _ := b.postForm("/donor/login", url.Values{"phone": {"01700000001"}, "otp": {code}})
	assertRedirect(t, resp, "/donor/profile")
	if app.donorByPhone(t, "01700000001").LastLogin == nil {
		t.Error("last login should be stamped")
	}

	// 2. ログイン済みならログイン画面からプロフィールへ移動する
	resp, _ = b.get("/donor/login")
	assertRedirect(t, resp, "/donor/profile")

	resp, body := b.get("/donor/profile")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "North Hall") {
		t.Fatalf("profile status = %d", resp.StatusCode)
	}

	// 3. 表示状態の切り替えは2回で元に戻る
	for _, want := range []string{"no", "yes"} {
		resp, body = b.postForm("/donor/toggle_availability", url.Values{})
		var got toggleResponse
		if err := json.Unmarshal([]byte(body), &got); err != nil {
			t.Fatalf("toggle body = %s", body)
		}
		if resp.StatusCode != http.StatusOK || !got.Success || got.NewStatus != want {
			t.Errorf("toggle = %d %+v, want new_status %s", resp.StatusCode, got, want)
		}
	}

	// 4. プロフィール編集
	resp, _ = b.get("/donor/edit")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit form status = %d", resp.StatusCode)
	}
	resp, _ = b.postForm("/donor/edit", url.Values{
		"name":        {"Rahim Uddin"},
		"area":        {"South Hall"},
		"blood_group": {"O-"},
		"age":         {"24"},
	})
	assertRedirect(t, resp, "/donor/profile")
	updated := app.donorByPhone(t, "01700000001")
	if updated.Name != "Rahim Uddin" || updated.Area != "South Hall" || updated.BloodGroup != model.BloodGroupONeg {
		t.Errorf("updated donor = %+v", updated)
	}
	if updated.Age == nil || *updated.Age != 24 {
		t.Errorf("age = %v, want 24", updated.Age)
	}
	_, body = b.get("/donor/profile")
	if !strings.Contains(body, "Rahim Uddinさん") {
		t.Error("session display name should follow the edit")
	}

	// 5. 不正な編集は400で再表示する
	resp, body = b.postForm("/donor/edit", url.Values{"name": {"Rahim"}, "area": {"X"}, "blood_group": {"Z"}})
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body, `value="X"`) {
		t.Errorf("invalid edit status = %d", resp.StatusCode)
	}

	// 6. ログアウト
	resp, _ = b.get("/donor/logout")
	assertRedirect(t, resp, "/")
	resp, _ = b.get("/donor/profile")
	assertRedirect(t, resp, "/donor/login")
}

func TestNewRouter_DonorLogin_UnknownContact_Returns401(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)

	code := b.sendOTP("01700000009")
	resp, body := b.postForm("/donor/login", url.Values{"contact": {"01700000009"}, "otp": {code}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if !strings.Contains(body, "見つかりません") {
		t.Error("expected donor-not-found message")
	}
}

func TestNewRouter_DeletedDonorSessionIsCleared(t *testing.T) {
	app := newTestApp(t)
	b := app.newBrowser(t)
	b.registerDonor("Rahim", "01700000001", "North Hall", "A+")
	code := b.sendOTP("01700000001")
	b.postForm("/donor/login", url.Values{"contact": {"01700000001"}, "otp": {code}})

	d := app.donorByPhone(t, "01700000001")
	if err := app.store.Donors.Delete(context.Background(), d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	resp, _ := b.get("/donor/profile")
	assertRedirect(t, resp, "/donor/login")
	resp, _ = b.get("/donor/login")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("login page status = %d, want 200 after identity was cleared", resp.StatusCode)
	}
}

func TestNewRouter_EmailChannel(t *testing.T) {
	app := newTestAppWith(t, model.ContactEmail, middleware.DefaultRateLimiterConfig())
	b := app.newBrowser(t)

	code := b.sendOTP("rahim@example.com")
	form := registrationForm("Rahim", "01700000001", "North Hall", "A+", code)
	resp, _ := b.postForm("/register", form)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing email status = %d, want 400", resp.StatusCode)
	}

	form.Set("email", "rahim@example.com")
	resp, _ = b.postForm("/register", form)
	assertRedirect(t, resp, "/?success=1")

	code = b.sendOTP("rahim@example.com")
	resp, _ = b.postForm("/donor/login", url.Values{"email": {"rahim@example.com"}, "otp": {code}})
	assertRedirect(t, resp, "/donor/profile")
}

// sessionCookie はブラウザが保持しているセッションCookieの値を返す。
func (b *browser) sessionCookie() string {
	b.t.Helper()
	u, _ := url.Parse(b.app.server.URL)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == session.CookieName {
			return c.Value
		}
	}
	return ""
}

// getWithSession はjarを使わずに指定したセッションCookieだけでGETする。
func (a *testApp) getWithSession(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, a.server.URL+path, nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	resp.Body.Close()
	return resp
}

func TestNewRouter_LoginRotatesSessionCookie(t *testing.T) {
	tests := []struct {
		name      string
		login     func(t *testing.T, b *browser)
		protected string
		loginPath string
	}{
		{
			name: "donor",
			login: func(t *testing.T, b *browser) {
				code := b.sendOTP("01700000001")
				resp, _ := b.postForm("/donor/login", url.Values{"phone": {"01700000001"}, "otp": {code}})
				assertRedirect(t, resp, "/donor/profile")
			},
			protected: "/donor/profile",
			loginPath: "/donor/login",
		},
		{
			name:      "admin",
			login:     loginAdmin,
			protected: "/admin/dashboard",
			loginPath: "/admin/login",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)
			app.seedAdmin(t, "admin", "s3cret")
			b := app.newBrowser(t)
			b.registerDonor("Rahim", "01700000001", "North Hall", "A+")

			// ログイン前に匿名セッションを確立しておく
			b.sendOTP("01799999999")
			before := b.sessionCookie()
			if before == "" {
				t.Fatal("expected an anonymous session cookie before login")
			}

			tt.login(t, b)
			after := b.sessionCookie()
			if after == "" || after == before {
				t.Fatalf("session cookie was not reissued on login: before=%q after=%q", before, after)
			}

			resp, _ := b.get(tt.protected)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET %s with new cookie status = %d, want 200", tt.protected, resp.StatusCode)
			}
			assertRedirect(t, app.getWithSession(t, tt.protected, before), tt.loginPath)
		})
	}
}

// --- 管理者 ---

func loginAdmin(t *testing.T, b *browser) {
	t.Helper()
	resp, _ := b.postForm("/admin/login", url.Values{"username": {"admin"}, "password": {"s3cret"}})
	assertRedirect(t, resp, "/admin/dashboard")
}

func TestNewRouter_AdminLogin(t *testing.T) {
	app := newTestApp(t)
	app.seedAdmin(t, "admin", "s3cret")
	b := app.newBrowser(t)

	resp, _ := b.get("/admin/login")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login form status = %d", resp.StatusCode)
	}

	resp, body := b.postForm("/admin/login", url.Values{"username": {"admin"}, "password": {"wrong"}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", resp.StatusCode)
	}
	if !strings.Contains(body, `value="admin"`) {
		t.Error("username should be kept on re-render")
	}

	loginAdmin(t, b)
	resp, _ = b.get("/admin/login")
	assertRedirect(t, resp, "/admin/dashboard")
}

func TestNewRouter_AdminDashboardDeleteAndExport(t *testing.T) {
	app := newTestApp(t)
	app.seedAdmin(t, "admin", "s3cret")
	b := app.newBrowser(t)
	b.registerDonor("Rahim", "01700000001", "North Hall", "A+")
	b.registerDonor("Karim", "01700000002", "South Hall", "B-")
	loginAdmin(t, b)

	resp, body := b.get("/admin/dashboard")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status = %d", resp.StatusCode)
	}
	for _, want := range []string{"Rahim", "Karim", "<strong>2</strong>"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}

	// CSVエクスポート
	resp, body = b.get("/admin/export_csv")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	disposition := resp.Header.Get("Content-Disposition")
	if !strings.HasPrefix(disposition, "attachment; filename=blood_donors_") || !strings.HasSuffix(disposition, ".csv") {
		t.Errorf("Content-Disposition = %q", disposition)
	}
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) != 3 || lines[0] != "ID,Name,Email,Phone,Area,Blood Group,Available,Created At" {
		t.Errorf("csv = %q", body)
	}

	// 削除。存在しないIDでも成功扱い
	karim := app.donorByPhone(t, "01700000002")
	deletePath := "/admin/donors/delete/" + strconv.FormatInt(karim.ID, 10)
	resp, _ = b.postForm(deletePath, url.Values{})
	assertRedirect(t, resp, "/admin/dashboard")
	resp, _ = b.postForm(deletePath, url.Values{})
	assertRedirect(t, resp, "/admin/dashboard")

	_, body = b.get("/admin/dashboard")
	if strings.Contains(body, "Karim") {
		t.Error("deleted donor should not be listed")
	}
}

func TestNewRouter_LogoutClearsOnlyItsRole(t *testing.T) {
	app := newTestApp(t)
	app.seedAdmin(t, "admin", "s3cret")
	b := app.newBrowser(t)
	b.registerDonor("Rahim", "01700000001", "North Hall", "A+")

	code := b.sendOTP("01700000001")
	b.postForm("/donor/login", url.Values{"contact": {"01700000001"}, "otp": {code}})
	loginAdmin(t, b)

	resp, _ := b.get("/admin/logout")
	assertRedirect(t, resp, "/")

	resp, _ = b.get("/admin/dashboard")
	assertRedirect(t, resp, "/admin/login")
	resp, _ = b.get("/donor/profile")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("donor identity should survive admin logout: status = %d", resp.StatusCode)
	}
}
