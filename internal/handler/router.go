package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/donorlink/internal/metrics"
	"github.com/hitoshi/donorlink/internal/middleware"
	"github.com/hitoshi/donorlink/internal/model"
)

// DonorDirectory は献血者ハンドラー・管理者ハンドラー・トップページが共有する献血者サービス。
// donor.Serviceが実装する。
type DonorDirectory interface {
	DonorServiceInterface
	RosterManager
	DonorCounter
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionStore middleware.SessionStore
	RateLimiter  *middleware.RateLimiter
	CSRF         middleware.CSRFConfig
	Logger       *slog.Logger
	Metrics      middleware.HTTPRecorder

	// 運用エンドポイント
	Gatherer prometheus.Gatherer
	Ping     func(ctx context.Context) error

	// 画面描画。nilの場合は埋め込みテンプレートから生成する。
	Renderer *Renderer

	// ドメインサービス
	DonorService  DonorDirectory
	AdminService  AdminServiceInterface
	SearchService SearchServiceInterface
	OTPIssuer     OTPIssuer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → Session → Logging → Metrics → CSRF
//
// 運用エンドポイント（/health, /metrics）はセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())

	renderer := deps.Renderer
	if renderer == nil {
		renderer = MustNewRenderer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	rateLimiter := deps.RateLimiter
	if rateLimiter == nil {
		rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	}
	validityMinutes := deps.OTPIssuer.ValidityMinutes()

	homeHandler := NewHomeHandler(deps.DonorService, renderer, deps.Ping)
	donorHandler := NewDonorHandler(deps.DonorService, renderer, validityMinutes)
	otpHandler := NewOTPHandler(deps.OTPIssuer)
	searchHandler := NewSearchHandler(deps.SearchService, renderer, deps.DonorService.Channel(), validityMinutes)
	adminHandler := NewAdminHandler(deps.AdminService, deps.DonorService, renderer)

	// --- 運用エンドポイント ---
	r.Get("/health", homeHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 画面とAPI ---
	// ミドルウェアスタック: Session → Logging → Metrics → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionStore))
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewMetricsMiddleware(recorder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/", homeHandler.Home)
		r.Get("/register", donorHandler.Register)
		r.Post("/register", donorHandler.Register)
		r.Get("/search", searchHandler.Search)

		// POST /send_otp - コード送信専用のレート制限を追加
		r.With(rateLimiter.OTPMiddleware()).Post("/send_otp", otpHandler.SendOTP)

		// 管理者
		r.Route("/admin", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(rateLimiter.LoginMiddleware())
				r.Get("/login", adminHandler.Login)
				r.Post("/login", adminHandler.Login)
			})
			r.Get("/logout", adminHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(middleware.NewRequireRoleMiddleware(model.RoleAdmin))
				r.Get("/dashboard", adminHandler.Dashboard)
				r.Post("/donors/delete/{id:[0-9]+}", adminHandler.DeleteDonor)
				r.Get("/export_csv", adminHandler.ExportCSV)
			})
		})

		// 献血者本人
		r.Route("/donor", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(rateLimiter.LoginMiddleware())
				r.Get("/login", donorHandler.Login)
				r.Post("/login", donorHandler.Login)
			})
			r.Get("/logout", donorHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(middleware.NewRequireRoleMiddleware(model.RoleDonor))
				r.Get("/profile", donorHandler.Profile)
				r.Get("/edit", donorHandler.Edit)
				r.Post("/edit", donorHandler.Edit)
				r.Post("/toggle_availability", donorHandler.ToggleAvailability)
			})
		})
	})

	return r
}
