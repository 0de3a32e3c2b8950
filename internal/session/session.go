// Package session はブラウザごとのサーバーサイドセッションを管理する。
//
// Cookieにはセッションレコードのidを主張するHS256署名付きトークンだけを載せ、
// ログイン主体と未使用のワンタイムコードはSessionRepositoryに保存する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/repository"
)

// CookieName はセッショントークンを保持するCookieの名前。
const CookieName = "donorlink_session"

// ErrInvalidToken はセッショントークンの署名・形式・期限が不正な場合のエラー。
var ErrInvalidToken = errors.New("invalid session token")

// State は1リクエスト中のセッション状態。
// 変更があった場合のみManager.Commitで永続化される。
type State struct {
	record model.Session
	isNew  bool
	dirty  bool
	rotate bool
}

// ID はセッションIDを返す。未保存の新規セッションでは空文字を返す。
func (s *State) ID() string {
	return s.record.ID
}

// IsNew は永続化前の新規セッションかどうかを返す。
func (s *State) IsNew() bool {
	return s.isNew
}

// Dirty は未保存の変更があるかどうかを返す。
func (s *State) Dirty() bool {
	return s.dirty
}

// PendingOTP は未使用のワンタイムコードを返す。
func (s *State) PendingOTP() *model.PendingOTP {
	return s.record.Data.PendingOTP
}

// SetPendingOTP はワンタイムコードを保存する。nilで破棄する。
func (s *State) SetPendingOTP(p *model.PendingOTP) {
	s.record.Data.PendingOTP = p
	s.dirty = true
}

// AdminID はログイン中の管理者IDを返す。未ログインなら0。
func (s *State) AdminID() int64 {
	return s.record.Data.AdminID
}

// AdminUsername はログイン中の管理者名を返す。
func (s *State) AdminUsername() string {
	return s.record.Data.AdminUsername
}

// Rotate は次回のCommitでセッションIDを新しく採番させる。
// 保存済みの内容は新しいIDに引き継がれ、古いレコードは削除される。
func (s *State) Rotate() {
	s.rotate = true
	s.dirty = true
}

// SetAdmin は管理者としてログイン済みにする。ログイン前のセッションIDは使い続けない。
func (s *State) SetAdmin(id int64, username string) {
	s.record.Data.AdminID = id
	s.record.Data.AdminUsername = username
	s.Rotate()
}

// ClearAdmin は管理者の識別情報だけを取り除く。
func (s *State) ClearAdmin() {
	if s.record.Data.AdminID == 0 && s.record.Data.AdminUsername == "" {
		return
	}
	s.record.Data.AdminID = 0
	s.record.Data.AdminUsername = ""
	s.dirty = true
}

// DonorID はログイン中の献血者IDを返す。未ログインなら0。
func (s *State) DonorID() int64 {
	return s.record.Data.DonorID
}

// DonorName はログイン中の献血者名を返す。
func (s *State) DonorName() string {
	return s.record.Data.DonorName
}

// SetDonor は献血者本人としてログイン済みにする。ログイン前のセッションIDは使い続けない。
func (s *State) SetDonor(id int64, name string) {
	s.record.Data.DonorID = id
	s.record.Data.DonorName = name
	s.Rotate()
}

// SetDonorName はログイン中の献血者の表示名だけを更新する。
func (s *State) SetDonorName(name string) {
	if s.record.Data.DonorName == name {
		return
	}
	s.record.Data.DonorName = name
	s.dirty = true
}

// ClearDonor は献血者の識別情報だけを取り除く。
func (s *State) ClearDonor() {
	if s.record.Data.DonorID == 0 && s.record.Data.DonorName == "" {
		return
	}
	s.record.Data.DonorID = 0
	s.record.Data.DonorName = ""
	s.dirty = true
}

// Has はroleの識別情報がセッションに存在するかを返す。
func (s *State) Has(role model.Role) bool {
	switch role {
	case model.RoleAdmin:
		return s.record.Data.AdminID != 0
	case model.RoleDonor:
		return s.record.Data.DonorID != 0
	default:
		return false
	}
}

// Config はセッション管理の設定。
type Config struct {
	Secret       []byte
	MaxAge       int // 秒
	CookieSecure bool
	CookieDomain string
}

// Manager はセッションの読み込みと永続化を行う。
type Manager struct {
	repo   repository.SessionRepository
	config Config
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(repo repository.SessionRepository, config Config) *Manager {
	return &Manager{
		repo:   repo,
		config: config,
		now:    time.Now,
	}
}

// Load はリクエストのCookieからセッションを復元する。
// Cookieがない・トークンが不正・レコードが期限切れの場合は新規セッションを返す。
func (m *Manager) Load(ctx context.Context, r *http.Request) (*State, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return m.fresh(), nil
	}

	id, err := m.parseToken(cookie.Value)
	if err != nil {
		return m.fresh(), nil
	}

	record, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if record == nil {
		return m.fresh(), nil
	}
	return &State{record: *record}, nil
}

// Commit は変更されたセッションを保存し、Cookieを発行し直す。
// 変更がなければ何もしない。Rotate済みの既存セッションは新しいIDで作り直す。
func (m *Manager) Commit(ctx context.Context, w http.ResponseWriter, state *State) error {
	if state == nil || !state.dirty {
		return nil
	}

	now := m.now()
	state.record.ExpiresAt = now.Add(time.Duration(m.config.MaxAge) * time.Second)

	if state.isNew || state.rotate {
		previousID := ""
		if !state.isNew {
			previousID = state.record.ID
		}

		id, err := generateSessionID()
		if err != nil {
			return fmt.Errorf("failed to generate session ID: %w", err)
		}
		state.record.ID = id
		state.record.CreatedAt = now
		if err := m.repo.Create(ctx, &state.record); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		if previousID != "" {
			if err := m.repo.DeleteByID(ctx, previousID); err != nil {
				return fmt.Errorf("failed to delete previous session: %w", err)
			}
		}
	} else if err := m.repo.Save(ctx, &state.record); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	token, err := m.signToken(state.record.ID, now, state.record.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   m.config.MaxAge,
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	state.isNew = false
	state.dirty = false
	state.rotate = false
	return nil
}

func (m *Manager) fresh() *State {
	return &State{isNew: true}
}

func (m *Manager) signToken(id string, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.Secret)
}

func (m *Manager) parseToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return m.config.Secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid || claims.ID == "" {
		return "", ErrInvalidToken
	}
	return claims.ID, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
