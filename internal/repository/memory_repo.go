package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/donorlink/internal/model"
)

// MemoryDonorRepo はプロセス内メモリに献血者を保持するリポジトリ。
// DATABASE_URL未設定時の開発用バックエンドとテストで使用する。
type MemoryDonorRepo struct {
	mu      sync.RWMutex
	donors  map[int64]*model.Donor
	counter int64
	now     func() time.Time
}

// NewMemoryDonorRepo はMemoryDonorRepoを生成する。
func NewMemoryDonorRepo() *MemoryDonorRepo {
	return &MemoryDonorRepo{
		donors: make(map[int64]*model.Donor),
		now:    time.Now,
	}
}

func (r *MemoryDonorRepo) Create(_ context.Context, donor *model.Donor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.donors {
		if conflicts(d, donor.Phone, donor.Email) {
			return ErrDuplicateContact
		}
	}

	r.counter++
	donor.ID = r.counter
	donor.CreatedAt = r.now()
	r.donors[donor.ID] = cloneDonor(donor)
	return nil
}

func (r *MemoryDonorRepo) FindByID(_ context.Context, id int64) (*model.Donor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.donors[id]
	if !ok {
		return nil, nil
	}
	return cloneDonor(d), nil
}

func (r *MemoryDonorRepo) FindByContact(_ context.Context, kind model.ContactKind, value string) (*model.Donor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.donors {
		if kind == model.ContactEmail {
			if d.Email != "" && strings.EqualFold(d.Email, value) {
				return cloneDonor(d), nil
			}
			continue
		}
		if d.Phone == value {
			return cloneDonor(d), nil
		}
	}
	return nil, nil
}

func (r *MemoryDonorRepo) UpdateProfile(_ context.Context, id int64, p model.DonorProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.donors[id]
	if !ok {
		return ErrNotFound
	}
	for otherID, other := range r.donors {
		if otherID != id && p.Email != "" && strings.EqualFold(other.Email, p.Email) {
			return ErrDuplicateContact
		}
	}

	d.Name = p.Name
	d.Email = p.Email
	d.Area = p.Area
	d.BloodGroup = model.BloodGroup(p.BloodGroup)
	d.BloodAvailable = p.BloodAvailable
	d.Age = p.Age
	d.Gender = p.Gender
	d.Weight = p.Weight
	d.HealthStatus = p.HealthStatus
	return nil
}

func (r *MemoryDonorRepo) ToggleAvailability(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.donors[id]
	if !ok {
		return false, ErrNotFound
	}
	d.IsAvailable = !d.IsAvailable
	return d.IsAvailable, nil
}

func (r *MemoryDonorRepo) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.donors[id]; ok {
		t := at
		d.LastLogin = &t
	}
	return nil
}

func (r *MemoryDonorRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.donors, id)
	return nil
}

func (r *MemoryDonorRepo) ListAll(_ context.Context) ([]*model.Donor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	donors := make([]*model.Donor, 0, len(r.donors))
	for _, d := range r.donors {
		donors = append(donors, cloneDonor(d))
	}
	sort.Slice(donors, func(i, j int) bool {
		if !donors[i].CreatedAt.Equal(donors[j].CreatedAt) {
			return donors[i].CreatedAt.After(donors[j].CreatedAt)
		}
		return donors[i].ID > donors[j].ID
	})
	return donors, nil
}

func (r *MemoryDonorRepo) ListAvailable(_ context.Context, filter model.DonorFilter) ([]*model.Donor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	area := strings.ToLower(filter.Area)
	var donors []*model.Donor
	for _, d := range r.donors {
		if !d.IsAvailable {
			continue
		}
		if filter.BloodGroup != "" && d.BloodGroup != filter.BloodGroup {
			continue
		}
		if area != "" && !strings.Contains(strings.ToLower(d.Area), area) {
			continue
		}
		donors = append(donors, cloneDonor(d))
	}
	sort.Slice(donors, func(i, j int) bool { return donors[i].ID > donors[j].ID })
	return donors, nil
}

func (r *MemoryDonorRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.donors), nil
}

func (r *MemoryDonorRepo) CountByBloodGroup(_ context.Context) ([]model.BloodGroupCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := make(map[model.BloodGroup]int)
	for _, d := range r.donors {
		totals[d.BloodGroup]++
	}

	counts := make([]model.BloodGroupCount, 0, len(totals))
	for bg, n := range totals {
		counts = append(counts, model.BloodGroupCount{BloodGroup: bg, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].BloodGroup < counts[j].BloodGroup
	})
	return counts, nil
}

func conflicts(d *model.Donor, phone, email string) bool {
	if d.Phone == phone {
		return true
	}
	return email != "" && strings.EqualFold(d.Email, email)
}

func cloneDonor(d *model.Donor) *model.Donor {
	c := *d
	if d.Age != nil {
		v := *d.Age
		c.Age = &v
	}
	if d.Weight != nil {
		v := *d.Weight
		c.Weight = &v
	}
	if d.LastLogin != nil {
		v := *d.LastLogin
		c.LastLogin = &v
	}
	return &c
}

// MemoryAdminRepo はメモリ上の管理者リポジトリ。
type MemoryAdminRepo struct {
	mu      sync.RWMutex
	admins  map[string]*model.Admin
	counter int64
}

// NewMemoryAdminRepo はMemoryAdminRepoを生成する。
func NewMemoryAdminRepo() *MemoryAdminRepo {
	return &MemoryAdminRepo{admins: make(map[string]*model.Admin)}
}

func (r *MemoryAdminRepo) FindByUsername(_ context.Context, username string) (*model.Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.admins[username]
	if !ok {
		return nil, nil
	}
	c := *a
	return &c, nil
}

func (r *MemoryAdminRepo) Create(_ context.Context, admin *model.Admin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter++
	admin.ID = r.counter
	admin.CreatedAt = time.Now()
	c := *admin
	r.admins[admin.Username] = &c
	return nil
}

func (r *MemoryAdminRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins), nil
}

// MemorySearchLogRepo はメモリ上の検索監査ログ。
type MemorySearchLogRepo struct {
	mu      sync.Mutex
	entries []model.SearchLogEntry
}

// NewMemorySearchLogRepo はMemorySearchLogRepoを生成する。
func NewMemorySearchLogRepo() *MemorySearchLogRepo {
	return &MemorySearchLogRepo{}
}

func (r *MemorySearchLogRepo) Append(_ context.Context, entry *model.SearchLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemorySearchLogRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries), nil
}

// Entries は記録済みログのコピーを返す。テスト用。
func (r *MemorySearchLogRepo) Entries() []model.SearchLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SearchLogEntry(nil), r.entries...)
}

// MemorySessionRepo はメモリ上のセッションリポジトリ。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
}

func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = cloneSession(*session)
	return nil
}

func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || !s.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	c := cloneSession(s)
	return &c, nil
}

func (r *MemorySessionRepo) Save(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; ok {
		r.sessions[session.ID] = cloneSession(*session)
	}
	return nil
}

func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemorySessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	now := r.now()
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func cloneSession(s model.Session) model.Session {
	if s.Data.PendingOTP != nil {
		p := *s.Data.PendingOTP
		s.Data.PendingOTP = &p
	}
	return s
}

// NewMemoryStore はメモリ上のリポジトリ一式を構築する。
func NewMemoryStore() *Store {
	return &Store{
		Donors:     NewMemoryDonorRepo(),
		Admins:     NewMemoryAdminRepo(),
		SearchLogs: NewMemorySearchLogRepo(),
		Sessions:   NewMemorySessionRepo(),
		Ping:       pingFunc,
		Close:      func() error { return nil },
	}
}

// compile-time interface check
var (
	_ DonorRepository     = (*MemoryDonorRepo)(nil)
	_ AdminRepository     = (*MemoryAdminRepo)(nil)
	_ SearchLogRepository = (*MemorySearchLogRepo)(nil)
	_ SessionRepository   = (*MemorySessionRepo)(nil)
)
