// Package donor は献血者名簿のドメインロジックを提供する。
package donor

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/otp"
	"github.com/hitoshi/donorlink/internal/repository"
	"github.com/hitoshi/donorlink/internal/security"
)

// csvTimeLayout はCSVエクスポートの日時書式。
const csvTimeLayout = "2006-01-02 15:04:05"

// csvHeader はCSVエクスポートのヘッダー行。
var csvHeader = []string{"ID", "Name", "Email", "Phone", "Area", "Blood Group", "Available", "Created At"}

// Verifier はワンタイムコードの照合に必要なインターフェース。
type Verifier interface {
	Verify(slot otp.Slot, contact, code string) error
}

// Recorder は登録完了を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordRegistration()
}

// Registration は登録フォームの入力内容。
type Registration struct {
	Name           string
	Email          string
	Phone          string
	Area           string
	BloodGroup     string
	BloodAvailable bool
	Age            *int
	Gender         string
	Weight         *float64
	HealthStatus   string
	Code           string
}

// Filter は検索条件。空のフィールドは条件に含めない。
type Filter struct {
	BloodGroup string
	Area       string
}

// Service は献血者名簿のサービス層。
type Service struct {
	repo      repository.DonorRepository
	verifier  Verifier
	sanitizer security.TextSanitizer
	channel   model.ContactKind
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(
	repo repository.DonorRepository,
	verifier Verifier,
	sanitizer security.TextSanitizer,
	channel model.ContactKind,
	recorder Recorder,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		verifier:  verifier,
		sanitizer: sanitizer,
		channel:   channel,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Channel はワンタイムコードの送付先として使う連絡手段を返す。
func (s *Service) Channel() model.ContactKind {
	return s.channel
}

// Register はワンタイムコードで本人確認済みの献血者を登録する。
// 入力検証に失敗した場合はコードを消費しない。
func (s *Service) Register(ctx context.Context, slot otp.Slot, reg Registration) (*model.Donor, error) {
	// 1. 入力の正規化と検証
	profile := s.cleanProfile(model.DonorProfile{
		Name:           reg.Name,
		Email:          reg.Email,
		Area:           reg.Area,
		BloodGroup:     reg.BloodGroup,
		BloodAvailable: reg.BloodAvailable,
		Age:            reg.Age,
		Gender:         reg.Gender,
		Weight:         reg.Weight,
		HealthStatus:   reg.HealthStatus,
	})
	phone := strings.TrimSpace(reg.Phone)
	if phone == "" {
		return nil, model.NewValidationError("電話番号は必須です")
	}
	if err := s.validateProfile(&profile); err != nil {
		return nil, err
	}

	// 2. ワンタイムコードの照合
	donor := &model.Donor{
		Name:           profile.Name,
		Email:          profile.Email,
		Phone:          phone,
		Area:           profile.Area,
		BloodGroup:     model.BloodGroup(profile.BloodGroup),
		BloodAvailable: profile.BloodAvailable,
		IsAvailable:    true,
		Age:            profile.Age,
		Gender:         profile.Gender,
		Weight:         profile.Weight,
		HealthStatus:   profile.HealthStatus,
	}
	// コードは入力どおりの連絡先に対して発行されているため、正規化前の値で照合する
	contact := phone
	if s.channel == model.ContactEmail {
		contact = strings.TrimSpace(reg.Email)
	}
	if err := s.verifier.Verify(slot, contact, reg.Code); err != nil {
		return nil, err
	}

	// 3. 保存
	if err := s.repo.Create(ctx, donor); err != nil {
		if errors.Is(err, repository.ErrDuplicateContact) {
			return nil, model.NewDuplicateContactError()
		}
		return nil, fmt.Errorf("献血者の登録に失敗しました: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordRegistration()
	}
	s.logger.InfoContext(ctx, "donor registered",
		slog.Int64("donor_id", donor.ID),
		slog.String("blood_group", string(donor.BloodGroup)),
	)
	return donor, nil
}

// Login はワンタイムコードで本人確認し、連絡先に一致する献血者を返す。
// 照合に成功したコードは献血者が見つからない場合でも消費される。
func (s *Service) Login(ctx context.Context, slot otp.Slot, contact, code string) (*model.Donor, error) {
	contact = strings.TrimSpace(contact)
	if err := s.verifier.Verify(slot, contact, code); err != nil {
		return nil, err
	}

	donor, err := s.repo.FindByContact(ctx, s.channel, contact)
	if err != nil {
		return nil, fmt.Errorf("献血者の取得に失敗しました: %w", err)
	}
	if donor == nil {
		return nil, model.NewDonorNotFoundError()
	}

	now := s.now()
	if err := s.repo.TouchLastLogin(ctx, donor.ID, now); err != nil {
		return nil, fmt.Errorf("最終ログイン日時の更新に失敗しました: %w", err)
	}
	donor.LastLogin = &now
	return donor, nil
}

// Get は献血者を取得する。
func (s *Service) Get(ctx context.Context, id int64) (*model.Donor, error) {
	donor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("献血者の取得に失敗しました: %w", err)
	}
	if donor == nil {
		return nil, model.NewNotFoundError(id)
	}
	return donor, nil
}

// UpdateProfile は献血者本人のプロフィールを更新する。電話番号は変更できない。
func (s *Service) UpdateProfile(ctx context.Context, id int64, profile model.DonorProfile) error {
	profile = s.cleanProfile(profile)
	if err := s.validateProfile(&profile); err != nil {
		return err
	}

	if err := s.repo.UpdateProfile(ctx, id, profile); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return model.NewNotFoundError(id)
		case errors.Is(err, repository.ErrDuplicateContact):
			return model.NewDuplicateContactError()
		default:
			return fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
		}
	}
	return nil
}

// ToggleAvailability は検索結果への表示可否を反転し、新しい値を返す。
func (s *Service) ToggleAvailability(ctx context.Context, id int64) (bool, error) {
	available, err := s.repo.ToggleAvailability(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, model.NewNotFoundError(id)
		}
		return false, fmt.Errorf("表示状態の切り替えに失敗しました: %w", err)
	}
	return available, nil
}

// FindAvailable は表示可能な献血者を条件で絞り込んで新しい順に返す。
func (s *Service) FindAvailable(ctx context.Context, filter Filter) ([]*model.Donor, error) {
	var f model.DonorFilter
	if v := strings.TrimSpace(filter.BloodGroup); v != "" {
		bg, ok := model.ParseBloodGroup(v)
		if !ok {
			return nil, model.NewValidationError(fmt.Sprintf("不明な血液型です: %s", v))
		}
		f.BloodGroup = bg
	}
	f.Area = strings.TrimSpace(filter.Area)

	donors, err := s.repo.ListAvailable(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("献血者の検索に失敗しました: %w", err)
	}
	return donors, nil
}

// Delete は献血者を削除する。存在しないIDは何もしない。
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("献血者の削除に失敗しました: %w", err)
	}
	s.logger.InfoContext(ctx, "donor deleted", slog.Int64("donor_id", id))
	return nil
}

// ListAll は全献血者を登録日時の新しい順に返す。
func (s *Service) ListAll(ctx context.Context) ([]*model.Donor, error) {
	donors, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("献血者一覧の取得に失敗しました: %w", err)
	}
	return donors, nil
}

// Count は登録済み献血者数を返す。
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("献血者数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// BloodGroupDistribution は血液型ごとの登録者数を多い順に返す。
func (s *Service) BloodGroupDistribution(ctx context.Context) ([]model.BloodGroupCount, error) {
	counts, err := s.repo.CountByBloodGroup(ctx)
	if err != nil {
		return nil, fmt.Errorf("血液型別集計に失敗しました: %w", err)
	}
	return counts, nil
}

// ExportCSV は全献血者をCSVとしてwに書き出す。
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	donors, err := s.ListAll(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("CSVヘッダーの書き込みに失敗しました: %w", err)
	}
	for _, d := range donors {
		record := []string{
			strconv.FormatInt(d.ID, 10),
			d.Name,
			d.Email,
			d.Phone,
			d.Area,
			string(d.BloodGroup),
			model.YesNo(d.IsAvailable),
			d.CreatedAt.Format(csvTimeLayout),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("CSV行の書き込みに失敗しました: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// cleanProfile は自由入力テキストからマークアップと前後の空白を取り除く。
// メールアドレスは小文字に正規化して保存する。
func (s *Service) cleanProfile(p model.DonorProfile) model.DonorProfile {
	p.Name = s.sanitizer.Sanitize(p.Name)
	p.Area = s.sanitizer.Sanitize(p.Area)
	p.Gender = s.sanitizer.Sanitize(p.Gender)
	p.HealthStatus = s.sanitizer.Sanitize(p.HealthStatus)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	return p
}

// validateProfile は必須項目と値の範囲を検証し、血液型を正規化する。
func (s *Service) validateProfile(p *model.DonorProfile) error {
	if p.Name == "" {
		return model.NewValidationError("氏名は必須です")
	}
	if p.Area == "" {
		return model.NewValidationError("地域は必須です")
	}
	bg, ok := model.ParseBloodGroup(p.BloodGroup)
	if !ok {
		return model.NewValidationError("血液型を選択してください")
	}
	p.BloodGroup = string(bg)

	if p.Email != "" && !strings.Contains(p.Email, "@") {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if s.channel == model.ContactEmail && p.Email == "" {
		return model.NewValidationError("メールアドレスは必須です")
	}
	if p.Age != nil && (*p.Age < 1 || *p.Age > 120) {
		return model.NewValidationError("年齢は1〜120の範囲で入力してください")
	}
	if p.Weight != nil && (math.IsNaN(*p.Weight) || math.IsInf(*p.Weight, 0) || *p.Weight <= 0) {
		return model.NewValidationError("体重は正の数で入力してください")
	}
	return nil
}
