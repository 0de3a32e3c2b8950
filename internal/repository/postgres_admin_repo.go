package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/donorlink/internal/model"
)

// PostgresAdminRepo はPostgreSQLを使用した管理者リポジトリ。
type PostgresAdminRepo struct {
	db *sql.DB
}

// NewPostgresAdminRepo はPostgresAdminRepoを生成する。
func NewPostgresAdminRepo(db *sql.DB) *PostgresAdminRepo {
	return &PostgresAdminRepo{db: db}
}

// FindByUsername はユーザー名で管理者を取得する。見つからない場合はnilを返す。
func (r *PostgresAdminRepo) FindByUsername(ctx context.Context, username string) (*model.Admin, error) {
	admin := &model.Admin{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM admins
		 WHERE username = $1`,
		username,
	).Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &admin.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin: %w", err)
	}
	return admin, nil
}

// Create は管理者を作成する。
func (r *PostgresAdminRepo) Create(ctx context.Context, admin *model.Admin) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO admins (username, password_hash)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		admin.Username, admin.PasswordHash,
	).Scan(&admin.ID, &admin.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

// Count は管理者数を返す。
func (r *PostgresAdminRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM admins`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return count, nil
}

// PostgresSearchLogRepo はPostgreSQLを使用した検索監査ログリポジトリ。
type PostgresSearchLogRepo struct {
	db *sql.DB
}

// NewPostgresSearchLogRepo はPostgresSearchLogRepoを生成する。
func NewPostgresSearchLogRepo(db *sql.DB) *PostgresSearchLogRepo {
	return &PostgresSearchLogRepo{db: db}
}

// Append は検索ログを1件追記する。IDが未設定の場合はUUIDを採番する。
func (r *PostgresSearchLogRepo) Append(ctx context.Context, entry *model.SearchLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO search_logs (id, seeker_name, seeker_id, seeker_contact, criteria)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		entry.ID, entry.SeekerName, entry.SeekerID, entry.SeekerContact, entry.Criteria,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append search log: %w", err)
	}
	return nil
}

// Count は検索ログの件数を返す。
func (r *PostgresSearchLogRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM search_logs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count search logs: %w", err)
	}
	return count, nil
}

// compile-time interface check
var (
	_ AdminRepository     = (*PostgresAdminRepo)(nil)
	_ SearchLogRepository = (*PostgresSearchLogRepo)(nil)
)
