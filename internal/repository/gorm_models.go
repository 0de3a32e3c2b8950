package repository

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hitoshi/donorlink/internal/model"
)

// donorRow はGORMバックエンドのdonorsテーブル定義。
// boolカラムにdefaultタグを付けるとfalseがゼロ値として省略されるため付けない。
type donorRow struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	Name           string  `gorm:"size:255;not null"`
	Email          *string `gorm:"size:255;uniqueIndex"`
	Phone          string  `gorm:"size:64;not null;uniqueIndex"`
	Area           string  `gorm:"size:255;not null"`
	BloodGroup     string  `gorm:"size:3;not null;index"`
	BloodAvailable bool    `gorm:"not null"`
	IsAvailable    bool    `gorm:"not null"`
	Age            *int
	Gender         string   `gorm:"size:32;not null"`
	Weight         *float64
	HealthStatus   string `gorm:"size:255;not null"`
	LastLogin      *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime;index"`
}

func (donorRow) TableName() string { return "donors" }

// adminRow はGORMバックエンドのadminsテーブル定義。
type adminRow struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"size:191;not null;uniqueIndex"`
	PasswordHash string    `gorm:"size:255;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (adminRow) TableName() string { return "admins" }

// searchLogRow はGORMバックエンドのsearch_logsテーブル定義。
type searchLogRow struct {
	ID            string    `gorm:"primaryKey;size:36"`
	SeekerName    string    `gorm:"size:255;not null"`
	SeekerID      string    `gorm:"size:255;not null"`
	SeekerContact string    `gorm:"size:255;not null"`
	Criteria      string    `gorm:"size:512;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (searchLogRow) TableName() string { return "search_logs" }

// sessionRow はGORMバックエンドのsessionsテーブル定義。dataはJSON文字列。
type sessionRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Data      string    `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

func (sessionRow) TableName() string { return "sessions" }

// AutoMigrate はGORMバックエンドのテーブルを作成・更新する。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&donorRow{}, &adminRow{}, &searchLogRow{}, &sessionRow{})
}

func toDonorRow(d *model.Donor) *donorRow {
	return &donorRow{
		ID:             d.ID,
		Name:           d.Name,
		Email:          emailKey(d.Email),
		Phone:          d.Phone,
		Area:           d.Area,
		BloodGroup:     string(d.BloodGroup),
		BloodAvailable: d.BloodAvailable,
		IsAvailable:    d.IsAvailable,
		Age:            d.Age,
		Gender:         d.Gender,
		Weight:         d.Weight,
		HealthStatus:   d.HealthStatus,
		LastLogin:      d.LastLogin,
		CreatedAt:      d.CreatedAt,
	}
}

func (r *donorRow) toModel() *model.Donor {
	d := &model.Donor{
		ID:             r.ID,
		Name:           r.Name,
		Phone:          r.Phone,
		Area:           r.Area,
		BloodGroup:     model.BloodGroup(r.BloodGroup),
		BloodAvailable: r.BloodAvailable,
		IsAvailable:    r.IsAvailable,
		Age:            r.Age,
		Gender:         r.Gender,
		Weight:         r.Weight,
		HealthStatus:   r.HealthStatus,
		LastLogin:      r.LastLogin,
		CreatedAt:      r.CreatedAt,
	}
	if r.Email != nil {
		d.Email = *r.Email
	}
	return d
}

// emailKey はemailを小文字に正規化したカラム値を返す。
// PostgreSQLのuniqueIndexは大文字小文字を区別するため、保存時にそろえる。
func emailKey(s string) *string {
	return optionalString(strings.ToLower(s))
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// likeContains はLIKE ... ESCAPE '!' 用の部分一致パターンを返す。
func likeContains(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}
