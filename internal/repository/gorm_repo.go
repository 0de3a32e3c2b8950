package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hitoshi/donorlink/internal/model"
)

// GormDonorRepo はGORMを使用した献血者リポジトリ。MySQLとPostgreSQLの両方で動作する。
type GormDonorRepo struct {
	db *gorm.DB
}

// NewGormDonorRepo はGormDonorRepoを生成する。
func NewGormDonorRepo(db *gorm.DB) *GormDonorRepo {
	return &GormDonorRepo{db: db}
}

func (r *GormDonorRepo) Create(ctx context.Context, donor *model.Donor) error {
	row := toDonorRow(donor)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateContact
		}
		return fmt.Errorf("failed to create donor: %w", err)
	}
	donor.ID = row.ID
	donor.CreatedAt = row.CreatedAt
	return nil
}

func (r *GormDonorRepo) FindByID(ctx context.Context, id int64) (*model.Donor, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormDonorRepo) FindByContact(ctx context.Context, kind model.ContactKind, value string) (*model.Donor, error) {
	if kind == model.ContactEmail {
		return r.first(ctx, "LOWER(email) = LOWER(?)", value)
	}
	return r.first(ctx, "phone = ?", value)
}

func (r *GormDonorRepo) first(ctx context.Context, query string, args ...any) (*model.Donor, error) {
	var row donorRow
	err := r.db.WithContext(ctx).Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find donor: %w", err)
	}
	return row.toModel(), nil
}

// UpdateProfile はmapで更新し、ゼロ値のフィールドも確実に書き込む。
func (r *GormDonorRepo) UpdateProfile(ctx context.Context, id int64, p model.DonorProfile) error {
	result := r.db.WithContext(ctx).Model(&donorRow{}).Where("id = ?", id).Updates(map[string]any{
		"name":            p.Name,
		"email":           emailKey(p.Email),
		"area":            p.Area,
		"blood_group":     p.BloodGroup,
		"blood_available": p.BloodAvailable,
		"age":             p.Age,
		"gender":          p.Gender,
		"weight":          p.Weight,
		"health_status":   p.HealthStatus,
	})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateContact
		}
		return fmt.Errorf("failed to update donor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQLは値が変わらない更新を0件と報告するため存在確認で判定する
		var n int64
		if err := r.db.WithContext(ctx).Model(&donorRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check donor: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// ToggleAvailability は反転をUPDATE 1文で行い、同一トランザクション内で結果を読み戻す。
func (r *GormDonorRepo) ToggleAvailability(ctx context.Context, id int64) (bool, error) {
	var available bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&donorRow{}).Where("id = ?", id).
			Update("is_available", gorm.Expr("NOT is_available"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		var row donorRow
		if err := tx.Select("is_available").Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		available = row.IsAvailable
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to toggle availability: %w", err)
	}
	return available, nil
}

func (r *GormDonorRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&donorRow{}).Where("id = ?", id).
		Update("last_login", at).Error
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *GormDonorRepo) Delete(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Delete(&donorRow{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete donor: %w", err)
	}
	return nil
}

func (r *GormDonorRepo) ListAll(ctx context.Context) ([]*model.Donor, error) {
	var rows []donorRow
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list donors: %w", err)
	}
	return donorRowsToModels(rows), nil
}

func (r *GormDonorRepo) ListAvailable(ctx context.Context, filter model.DonorFilter) ([]*model.Donor, error) {
	q := r.db.WithContext(ctx).Where("is_available = ?", true)
	if filter.BloodGroup != "" {
		q = q.Where("blood_group = ?", string(filter.BloodGroup))
	}
	if filter.Area != "" {
		q = q.Where("LOWER(area) LIKE ? ESCAPE '!'", likeContains(filter.Area))
	}

	var rows []donorRow
	if err := q.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search donors: %w", err)
	}
	return donorRowsToModels(rows), nil
}

func (r *GormDonorRepo) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&donorRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count donors: %w", err)
	}
	return int(n), nil
}

func (r *GormDonorRepo) CountByBloodGroup(ctx context.Context) ([]model.BloodGroupCount, error) {
	var rows []struct {
		BloodGroup string
		Total      int
	}
	err := r.db.WithContext(ctx).Model(&donorRow{}).
		Select("blood_group, COUNT(*) AS total").
		Group("blood_group").
		Order("total DESC").Order("blood_group").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count donors by blood group: %w", err)
	}

	counts := make([]model.BloodGroupCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, model.BloodGroupCount{
			BloodGroup: model.BloodGroup(row.BloodGroup),
			Count:      row.Total,
		})
	}
	return counts, nil
}

func donorRowsToModels(rows []donorRow) []*model.Donor {
	donors := make([]*model.Donor, 0, len(rows))
	for i := range rows {
		donors = append(donors, rows[i].toModel())
	}
	return donors
}

// GormAdminRepo はGORMを使用した管理者リポジトリ。
type GormAdminRepo struct {
	db *gorm.DB
}

// NewGormAdminRepo はGormAdminRepoを生成する。
func NewGormAdminRepo(db *gorm.DB) *GormAdminRepo {
	return &GormAdminRepo{db: db}
}

func (r *GormAdminRepo) FindByUsername(ctx context.Context, username string) (*model.Admin, error) {
	var row adminRow
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin: %w", err)
	}
	return &model.Admin{
		ID:           row.ID,
		Username:     row.Username,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt,
	}, nil
}

func (r *GormAdminRepo) Create(ctx context.Context, admin *model.Admin) error {
	row := &adminRow{Username: admin.Username, PasswordHash: admin.PasswordHash}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}
	admin.ID = row.ID
	admin.CreatedAt = row.CreatedAt
	return nil
}

func (r *GormAdminRepo) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&adminRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return int(n), nil
}

// GormSearchLogRepo はGORMを使用した検索監査ログリポジトリ。
type GormSearchLogRepo struct {
	db *gorm.DB
}

// NewGormSearchLogRepo はGormSearchLogRepoを生成する。
func NewGormSearchLogRepo(db *gorm.DB) *GormSearchLogRepo {
	return &GormSearchLogRepo{db: db}
}

func (r *GormSearchLogRepo) Append(ctx context.Context, entry *model.SearchLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	row := &searchLogRow{
		ID:            entry.ID,
		SeekerName:    entry.SeekerName,
		SeekerID:      entry.SeekerID,
		SeekerContact: entry.SeekerContact,
		Criteria:      entry.Criteria,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to append search log: %w", err)
	}
	entry.CreatedAt = row.CreatedAt
	return nil
}

func (r *GormSearchLogRepo) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&searchLogRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count search logs: %w", err)
	}
	return int(n), nil
}

// GormSessionRepo はGORMを使用したセッションリポジトリ。
type GormSessionRepo struct {
	db *gorm.DB
}

// NewGormSessionRepo はGormSessionRepoを生成する。
func NewGormSessionRepo(db *gorm.DB) *GormSessionRepo {
	return &GormSessionRepo{db: db}
}

func (r *GormSessionRepo) Create(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session.Data)
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	row := &sessionRow{
		ID:        session.ID,
		Data:      string(data),
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *GormSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, time.Now()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session := &model.Session{
		ID:        row.ID,
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.Data), &session.Data); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	return session, nil
}

func (r *GormSessionRepo) Save(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session.Data)
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	err = r.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", session.ID).
		Updates(map[string]any{"data": string(data), "expires_at": session.ExpiresAt}).Error
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *GormSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *GormSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&sessionRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// NewGormStore は*gorm.DB上のリポジトリ一式を構築する。
func NewGormStore(db *gorm.DB) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return &Store{
		Donors:     NewGormDonorRepo(db),
		Admins:     NewGormAdminRepo(db),
		SearchLogs: NewGormSearchLogRepo(db),
		Sessions:   NewGormSessionRepo(db),
		Ping:       sqlDB.PingContext,
		Close:      sqlDB.Close,
	}, nil
}

// compile-time interface check
var (
	_ DonorRepository     = (*GormDonorRepo)(nil)
	_ AdminRepository     = (*GormAdminRepo)(nil)
	_ SearchLogRepository = (*GormSearchLogRepo)(nil)
	_ SessionRepository   = (*GormSessionRepo)(nil)
)
