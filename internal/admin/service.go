// Package admin は管理者認証とダッシュボード集計を提供する。
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/repository"
)

// DefaultCost は管理者パスワードのbcryptコスト。
const DefaultCost = 12

// 既定の管理者アカウント
const (
	DefaultUsername = "admin"
	DefaultPassword = "admin123"
)

// DonorDirectory はダッシュボード集計に必要な献血者名簿の操作。
type DonorDirectory interface {
	Count(ctx context.Context) (int, error)
	ListAll(ctx context.Context) ([]*model.Donor, error)
	BloodGroupDistribution(ctx context.Context) ([]model.BloodGroupCount, error)
}

// Dashboard は管理者ダッシュボードの表示内容。
type Dashboard struct {
	TotalDonors   int
	TotalSearches int
	Donors        []*model.Donor
	BloodGroups   []model.BloodGroupCount
}

// Service は管理者機能のサービス層。
type Service struct {
	admins     repository.AdminRepository
	searchLogs repository.SearchLogRepository
	donors     DonorDirectory
	logger     *slog.Logger
	cost       int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	admins repository.AdminRepository,
	searchLogs repository.SearchLogRepository,
	donors DonorDirectory,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		admins:     admins,
		searchLogs: searchLogs,
		donors:     donors,
		logger:     logger,
		cost:       DefaultCost,
	}
}

// EnsureDefaultAdmin は管理者が1件も存在しない場合にだけ初期管理者を作成する。
// 作成した場合はtrueを返す。
func (s *Service) EnsureDefaultAdmin(ctx context.Context, username, password string) (bool, error) {
	count, err := s.admins.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("管理者数の取得に失敗しました: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if strings.TrimSpace(username) == "" {
		username = DefaultUsername
	}
	if password == "" {
		password = DefaultPassword
	}
	if password == DefaultPassword {
		s.logger.WarnContext(ctx, "seeding admin with the default password; change ADMIN_PASSWORD",
			slog.String("username", username),
		)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return false, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	admin := &model.Admin{Username: username, PasswordHash: string(hash)}
	if err := s.admins.Create(ctx, admin); err != nil {
		return false, fmt.Errorf("初期管理者の作成に失敗しました: %w", err)
	}

	s.logger.InfoContext(ctx, "default admin created", slog.String("username", username))
	return true, nil
}

// Authenticate はユーザー名とパスワードを検証し、管理者を返す。
// 失敗理由にかかわらず同じ認証エラーを返す。
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	admin, err := s.admins.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("管理者の取得に失敗しました: %w", err)
	}
	if admin == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		s.logger.WarnContext(ctx, "admin login failed", slog.String("username", username))
		return nil, model.NewInvalidCredentialsError()
	}
	return admin, nil
}

// Dashboard はダッシュボードの集計値と献血者一覧を返す。
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	total, err := s.donors.Count(ctx)
	if err != nil {
		return nil, err
	}
	searches, err := s.searchLogs.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("検索件数の取得に失敗しました: %w", err)
	}
	donors, err := s.donors.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.donors.BloodGroupDistribution(ctx)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		TotalDonors:   total,
		TotalSearches: searches,
		Donors:        donors,
		BloodGroups:   groups,
	}, nil
}
