// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/donorlink/internal/model"
)

// ErrDuplicateContact は電話番号またはメールアドレスの一意制約違反を表す。
var ErrDuplicateContact = errors.New("repository: duplicate contact")

// ErrNotFound は更新対象の行が存在しないことを表す。
var ErrNotFound = errors.New("repository: not found")

// DonorRepository は献血者データの永続化インターフェース。
type DonorRepository interface {
	// Create は献血者を登録し、採番されたIDとcreated_atをdonorに設定する。
	// 電話番号・メールアドレスが重複する場合はErrDuplicateContactを返す。
	Create(ctx context.Context, donor *model.Donor) error

	// FindByID は指定IDの献血者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Donor, error)

	// FindByContact は電話番号またはメールアドレスで献血者を検索する。
	// 見つからない場合はnilを返す。
	FindByContact(ctx context.Context, kind model.ContactKind, value string) (*model.Donor, error)

	// UpdateProfile は本人が編集できる項目を更新する。
	// 対象が存在しない場合はErrNotFound、重複する場合はErrDuplicateContactを返す。
	UpdateProfile(ctx context.Context, id int64, profile model.DonorProfile) error

	// ToggleAvailability はis_availableを単一の文で反転し、反転後の値を返す。
	// 対象が存在しない場合はErrNotFoundを返す。
	ToggleAvailability(ctx context.Context, id int64) (bool, error)

	// TouchLastLogin はlast_loginを指定時刻に更新する。
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error

	// Delete は献血者を物理削除する。存在しない場合も成功とする。
	Delete(ctx context.Context, id int64) error

	// ListAll は全献血者をcreated_at降順で返す。
	ListAll(ctx context.Context) ([]*model.Donor, error)

	// ListAvailable はis_availableが真の献血者をフィルタしてid降順で返す。
	// 地域は大文字小文字を区別しない部分一致。
	ListAvailable(ctx context.Context, filter model.DonorFilter) ([]*model.Donor, error)

	// Count は登録者数を返す。
	Count(ctx context.Context) (int, error)

	// CountByBloodGroup は血液型ごとの登録者数を件数降順で返す。
	CountByBloodGroup(ctx context.Context) ([]model.BloodGroupCount, error)
}

// AdminRepository は管理者アカウントの永続化インターフェース。
type AdminRepository interface {
	// FindByUsername はユーザー名で管理者を取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Admin, error)
	// Create は管理者を作成する。
	Create(ctx context.Context, admin *model.Admin) error
	// Count は管理者数を返す。
	Count(ctx context.Context) (int, error)
}

// SearchLogRepository は検索監査ログの永続化インターフェース。
// 追記のみで、読み出しは件数の集計に限る。
type SearchLogRepository interface {
	Append(ctx context.Context, entry *model.SearchLogEntry) error
	Count(ctx context.Context) (int, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Save はセッションの内容と有効期限を更新する。
	Save(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// Store は1つのバックエンドが提供するリポジトリ一式。
type Store struct {
	Donors     DonorRepository
	Admins     AdminRepository
	SearchLogs SearchLogRepository
	Sessions   SessionRepository

	// Ping はバックエンドの疎通確認を行う。
	Ping func(ctx context.Context) error
	// Close は接続を閉じる。
	Close func() error
}
