package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/hitoshi/donorlink/internal/admin"
	"github.com/hitoshi/donorlink/internal/config"
	"github.com/hitoshi/donorlink/internal/database"
	"github.com/hitoshi/donorlink/internal/delivery"
	"github.com/hitoshi/donorlink/internal/donor"
	"github.com/hitoshi/donorlink/internal/handler"
	"github.com/hitoshi/donorlink/internal/logger"
	"github.com/hitoshi/donorlink/internal/metrics"
	"github.com/hitoshi/donorlink/internal/middleware"
	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/otp"
	"github.com/hitoshi/donorlink/internal/repository"
	"github.com/hitoshi/donorlink/internal/search"
	"github.com/hitoshi/donorlink/internal/security"
	"github.com/hitoshi/donorlink/internal/session"
	"github.com/hitoshi/donorlink/internal/worker/cleanup"
)

// exportOutput はexportコマンドのCSV出力先。
var exportOutput io.Writer = os.Stdout

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、.envと環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SessionSecretGenerated {
		slog.Warn("SESSION_SECRET is not set; using a random per-process secret, sessions will not survive a restart")
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("backend", backendName(cfg)),
		slog.String("channel", cfg.ContactChannel),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	case CommandExport:
		return runExport(cfg, exportOutput)
	default:
		return runServe(cfg)
	}
}

// Application は1プロセス分の依存関係一式。
type Application struct {
	Config   *config.Config
	Store    *repository.Store
	Registry *prometheus.Registry
	Donors   *donor.Service
	Admins   *admin.Service
	Handler  http.Handler
}

// New はstoreとsenderの上にサービスとルーターを組み立て、初期管理者を用意する。
func New(ctx context.Context, cfg *config.Config, store *repository.Store, sender delivery.Sender, logger *slog.Logger) (*Application, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. ドメインサービスの初期化
	verifier := otp.NewVerifier(sender, collector, logger, otp.Config{ValidityMinutes: cfg.OTPValidityMinutes})
	donorService := donor.NewService(
		store.Donors, verifier, security.NewInputSanitizer(),
		model.ContactKind(cfg.ContactChannel), collector, logger,
	)
	adminService := admin.NewService(store.Admins, store.SearchLogs, donorService, logger)
	searchService := search.NewService(verifier, donorService, store.SearchLogs, collector, logger)

	// 3. 初期管理者の作成
	if _, err := adminService.EnsureDefaultAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return nil, fmt.Errorf("failed to seed admin: %w", err)
	}

	// 4. セッション
	sessions := session.NewManager(store.Sessions, session.Config{
		Secret:       []byte(cfg.SessionSecret),
		MaxAge:       cfg.SessionMaxAge,
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	})

	// 5. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		SessionStore: sessions,
		RateLimiter:  middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitOTP, cfg.RateLimitLogin)),
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:   logger,
		Metrics:  collector,
		Gatherer: registry,
		Ping:     store.Ping,

		DonorService:  donorService,
		AdminService:  adminService,
		SearchService: searchService,
		OTPIssuer:     verifier,
	})

	return &Application{
		Config:   cfg,
		Store:    store,
		Registry: registry,
		Donors:   donorService,
		Admins:   adminService,
		Handler:  router,
	}, nil
}

// runServe はWebサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. ストアの準備（スキーマも最新にする）
	store, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()

	// 2. 依存関係の組み立て
	application, err := New(context.Background(), cfg, store, newSender(cfg, slog.Default()), slog.Default())
	if err != nil {
		return err
	}

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      application.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down web server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// sqlバックエンドはgolang-migrate、gormバックエンドはAutoMigrateを使う。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("backend", cfg.DatabaseBackend),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	store, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()

	slog.Info("database migrations completed successfully")
	return nil
}

// runCleanup は有効期限切れセッションを1回だけ削除する。
func runCleanup(cfg *config.Config) error {
	store, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer store.Close()

	return cleanup.NewCleanupJob(store.Sessions, slog.Default()).Run(context.Background())
}

// runExport は全献血者をCSVとしてoutに書き出す。
func runExport(cfg *config.Config, out io.Writer) error {
	store, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer store.Close()

	service := donor.NewService(
		store.Donors, nil, security.NewInputSanitizer(),
		model.ContactKind(cfg.ContactChannel), nil, slog.Default(),
	)
	if err := service.ExportCSV(context.Background(), out); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	return nil
}

// openStore は設定に応じたストアを開く。
// DATABASE_URLが空の場合はインメモリストアを返す。migrateがtrueならスキーマを最新にする。
func openStore(cfg *config.Config, migrate bool) (*repository.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL is not set; using the in-memory store, data will be lost on restart")
		return repository.NewMemoryStore(), nil
	}

	switch cfg.DatabaseBackend {
	case config.BackendGorm:
		db, err := database.OpenGorm(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		store, err := gormStore(db, migrate)
		if err != nil {
			return nil, err
		}
		slog.Info("database connection established", slog.String("backend", config.BackendGorm))
		return store, nil

	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if migrate {
			if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
				db.Close()
				return nil, fmt.Errorf("migration failed: %w", err)
			}
		}
		slog.Info("database connection established", slog.String("backend", config.BackendSQL))
		return repository.NewPostgresStore(db), nil
	}
}

// gormStore はGORMの接続からストアを組み立てる。失敗した場合は接続を閉じる。
func gormStore(db *gorm.DB, migrate bool) (store *repository.Store, err error) {
	defer func() {
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				sqlDB.Close()
			}
		}
	}()

	if migrate {
		if err := repository.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("auto migration failed: %w", err)
		}
	}
	return repository.NewGormStore(db)
}

// newSender は連絡手段に応じた送信チャネルを返す。
// 外部サービスの認証情報がない場合はログ出力のみのチャネルになる。
func newSender(cfg *config.Config, logger *slog.Logger) delivery.Sender {
	console := delivery.NewConsoleSender(logger)

	switch cfg.ContactChannel {
	case config.ChannelEmail:
		if cfg.SMTPConfigured() {
			return delivery.WithFallback(delivery.NewSMTPSender(delivery.SMTPConfig{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUsername,
				Password: cfg.SMTPPassword,
				From:     cfg.SMTPFrom,
			}), console, logger)
		}
	default:
		if cfg.TwilioConfigured() {
			sms, err := delivery.NewTwilioSender(delivery.TwilioConfig{
				AccountSID: cfg.TwilioAccountSID,
				AuthToken:  cfg.TwilioAuthToken,
				FromNumber: cfg.TwilioFromNumber,
			})
			if err == nil {
				return delivery.WithFallback(sms, console, logger)
			}
			logger.Error("failed to create sms sender", slog.String("error", err.Error()))
		}
	}

	logger.Warn("no delivery provider configured; one-time codes are written to the log",
		slog.String("channel", cfg.ContactChannel),
	)
	return console
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// backendName はログ表示用のバックエンド名を返す。
func backendName(cfg *config.Config) string {
	if cfg.DatabaseURL == "" {
		return "memory"
	}
	return cfg.DatabaseBackend
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
