package model

import "time"

// Admin は管理者アカウントを表す。
type Admin struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// SearchLogEntry は完了した検索の監査ログ。追記のみ行う。
type SearchLogEntry struct {
	ID            string
	SeekerName    string
	SeekerID      string
	SeekerContact string
	Criteria      string
	CreatedAt     time.Time
}

// Role はセッションに保持するログイン主体の種別。
type Role string

const (
	// RoleAdmin は管理者を表す。
	RoleAdmin Role = "admin"
	// RoleDonor は献血者本人を表す。
	RoleDonor Role = "donor"
)

// LoginPath は未ログイン時のリダイレクト先を返す。
func (r Role) LoginPath() string {
	if r == RoleAdmin {
		return "/admin/login"
	}
	return "/donor/login"
}

// PendingOTP はセッションごとに1件だけ保持する未使用のワンタイムコード。
type PendingOTP struct {
	Code     string    `json:"code"`
	Contact  string    `json:"contact"`
	IssuedAt time.Time `json:"issued_at"`
}

// SessionData はsessions.dataにJSONとして保存するセッション内容。
type SessionData struct {
	AdminID       int64       `json:"admin_id,omitempty"`
	AdminUsername string      `json:"admin_username,omitempty"`
	DonorID       int64       `json:"donor_id,omitempty"`
	DonorName     string      `json:"donor_name,omitempty"`
	PendingOTP    *PendingOTP `json:"pending_otp,omitempty"`
}

// Session はブラウザごとのサーバーサイドセッションを表す。
type Session struct {
	ID        string
	Data      SessionData
	ExpiresAt time.Time
	CreatedAt time.Time
}
