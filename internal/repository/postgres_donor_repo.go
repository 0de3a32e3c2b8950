package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/donorlink/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

const donorColumns = `id, name, COALESCE(email, ''), phone, area, blood_group,
	blood_available, is_available, age, gender, weight, health_status,
	last_login, created_at`

// PostgresDonorRepo はPostgreSQLを使用した献血者リポジトリ。
type PostgresDonorRepo struct {
	db *sql.DB
}

// NewPostgresDonorRepo はPostgresDonorRepoを生成する。
func NewPostgresDonorRepo(db *sql.DB) *PostgresDonorRepo {
	return &PostgresDonorRepo{db: db}
}

// Create は献血者を登録する。emailが空の場合はNULLとして保存する。
func (r *PostgresDonorRepo) Create(ctx context.Context, donor *model.Donor) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO donors (name, email, phone, area, blood_group,
			blood_available, is_available, age, gender, weight, health_status)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		donor.Name, donor.Email, donor.Phone, donor.Area, string(donor.BloodGroup),
		donor.BloodAvailable, donor.IsAvailable, nullInt(donor.Age), donor.Gender,
		nullFloat(donor.Weight), donor.HealthStatus,
	).Scan(&donor.ID, &donor.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateContact
		}
		return fmt.Errorf("failed to create donor: %w", err)
	}
	return nil
}

// FindByID は指定IDの献血者を取得する。見つからない場合はnilを返す。
func (r *PostgresDonorRepo) FindByID(ctx context.Context, id int64) (*model.Donor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+donorColumns+` FROM donors WHERE id = $1`, id)
	donor, err := scanDonor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find donor: %w", err)
	}
	return donor, nil
}

// FindByContact は電話番号またはメールアドレスで献血者を検索する。
// メールアドレスは大文字小文字を区別しない。
func (r *PostgresDonorRepo) FindByContact(ctx context.Context, kind model.ContactKind, value string) (*model.Donor, error) {
	query := `SELECT ` + donorColumns + ` FROM donors WHERE phone = $1`
	if kind == model.ContactEmail {
		query = `SELECT ` + donorColumns + ` FROM donors WHERE lower(email) = lower($1)`
	}

	donor, err := scanDonor(r.db.QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find donor by contact: %w", err)
	}
	return donor, nil
}

// UpdateProfile は本人が編集できる項目を更新する。
func (r *PostgresDonorRepo) UpdateProfile(ctx context.Context, id int64, p model.DonorProfile) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE donors
		 SET name = $1, email = NULLIF($2, ''), area = $3, blood_group = $4,
		     blood_available = $5, age = $6, gender = $7, weight = $8, health_status = $9
		 WHERE id = $10`,
		p.Name, p.Email, p.Area, p.BloodGroup, p.BloodAvailable,
		nullInt(p.Age), p.Gender, nullFloat(p.Weight), p.HealthStatus, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateContact
		}
		return fmt.Errorf("failed to update donor: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleAvailability はis_availableを単一のUPDATE文で反転する。
func (r *PostgresDonorRepo) ToggleAvailability(ctx context.Context, id int64) (bool, error) {
	var available bool
	err := r.db.QueryRowContext(ctx,
		`UPDATE donors SET is_available = NOT is_available
		 WHERE id = $1
		 RETURNING is_available`,
		id,
	).Scan(&available)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to toggle availability: %w", err)
	}
	return available, nil
}

// TouchLastLogin はlast_loginを更新する。
func (r *PostgresDonorRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE donors SET last_login = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// Delete は献血者を物理削除する。
func (r *PostgresDonorRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM donors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete donor: %w", err)
	}
	return nil
}

// ListAll は全献血者を登録日時の新しい順に返す。
func (r *PostgresDonorRepo) ListAll(ctx context.Context) ([]*model.Donor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+donorColumns+` FROM donors ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list donors: %w", err)
	}
	defer rows.Close()

	return collectDonors(rows)
}

// ListAvailable は表示可能な献血者を検索する。
// 地域はstrposで照合するため、入力中の % や _ もそのまま文字として扱われる。
func (r *PostgresDonorRepo) ListAvailable(ctx context.Context, filter model.DonorFilter) ([]*model.Donor, error) {
	var (
		conds = []string{"is_available = TRUE"}
		args  []any
	)
	if filter.BloodGroup != "" {
		args = append(args, string(filter.BloodGroup))
		conds = append(conds, fmt.Sprintf("blood_group = $%d", len(args)))
	}
	if filter.Area != "" {
		args = append(args, filter.Area)
		conds = append(conds, fmt.Sprintf("strpos(lower(area), lower($%d)) > 0", len(args)))
	}

	query := `SELECT ` + donorColumns + ` FROM donors WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search donors: %w", err)
	}
	defer rows.Close()

	return collectDonors(rows)
}

// Count は登録者数を返す。
func (r *PostgresDonorRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM donors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count donors: %w", err)
	}
	return count, nil
}

// CountByBloodGroup は血液型ごとの登録者数を件数降順で返す。
func (r *PostgresDonorRepo) CountByBloodGroup(ctx context.Context) ([]model.BloodGroupCount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT blood_group, count(*) AS n
		 FROM donors
		 GROUP BY blood_group
		 ORDER BY n DESC, blood_group`)
	if err != nil {
		return nil, fmt.Errorf("failed to count donors by blood group: %w", err)
	}
	defer rows.Close()

	var counts []model.BloodGroupCount
	for rows.Next() {
		var c model.BloodGroupCount
		var bg string
		if err := rows.Scan(&bg, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan blood group count: %w", err)
		}
		c.BloodGroup = model.BloodGroup(bg)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blood group counts: %w", err)
	}
	return counts, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonor(s rowScanner) (*model.Donor, error) {
	var (
		d         model.Donor
		bg        string
		age       sql.NullInt64
		weight    sql.NullFloat64
		lastLogin sql.NullTime
	)
	err := s.Scan(
		&d.ID, &d.Name, &d.Email, &d.Phone, &d.Area, &bg,
		&d.BloodAvailable, &d.IsAvailable, &age, &d.Gender, &weight, &d.HealthStatus,
		&lastLogin, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.BloodGroup = model.BloodGroup(bg)
	if age.Valid {
		v := int(age.Int64)
		d.Age = &v
	}
	if weight.Valid {
		v := weight.Float64
		d.Weight = &v
	}
	if lastLogin.Valid {
		v := lastLogin.Time
		d.LastLogin = &v
	}
	return &d, nil
}

func collectDonors(rows *sql.Rows) ([]*model.Donor, error) {
	var donors []*model.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan donor: %w", err)
		}
		donors = append(donors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate donors: %w", err)
	}
	return donors, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// compile-time interface check
var _ DonorRepository = (*PostgresDonorRepo)(nil)
