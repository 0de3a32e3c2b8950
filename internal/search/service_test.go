package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hitoshi/donorlink/internal/delivery"
	"github.com/hitoshi/donorlink/internal/donor"
	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/otp"
	"github.com/hitoshi/donorlink/internal/repository"
	"github.com/hitoshi/donorlink/internal/security"
	"github.com/hitoshi/donorlink/internal/session"
)

// --- モック定義 ---

type mockRecorder struct {
	searches int
}

func (m *mockRecorder) RecordSearch() { m.searches++ }

type mockFinder struct {
	findFn func(ctx context.Context, filter donor.Filter) ([]*model.Donor, error)
}

func (m *mockFinder) FindAvailable(ctx context.Context, filter donor.Filter) ([]*model.Donor, error) {
	return m.findFn(ctx, filter)
}

// --- ヘルパー ---

type fixture struct {
	svc      *Service
	donors   *repository.MemoryDonorRepo
	logs     *repository.MemorySearchLogRepo
	recorder *mockRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := otp.NewVerifier(delivery.NewConsoleSender(logger), nil, logger, otp.Config{ValidityMinutes: 5})
	donors := repository.NewMemoryDonorRepo()
	donorSvc := donor.NewService(donors, verifier, security.NewInputSanitizer(), model.ContactPhone, nil, logger)
	logs := repository.NewMemorySearchLogRepo()
	rec := &mockRecorder{}
	return &fixture{
		svc:      NewService(verifier, donorSvc, logs, rec, logger),
		donors:   donors,
		logs:     logs,
		recorder: rec,
	}
}

func slotWithCode(contact, code string) *session.State {
	s := &session.State{}
	s.SetPendingOTP(&model.PendingOTP{Code: code, Contact: contact})
	return s
}

func validQuery() Query {
	return Query{
		SeekerName:    "Karim",
		SeekerID:      "STU-42",
		SeekerContact: "01811111111",
		Code:          "4821",
		BloodGroup:    "A+",
		Area:          "North",
	}
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("code = %s, want %s", apiErr.Code, code)
	}
}

// --- テスト ---

func TestQuery_Requested(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *Query)
		want   bool
	}{
		{"全項目あり", func(q *Query) {}, true},
		{"氏名なし", func(q *Query) { q.SeekerName = "" }, false},
		{"IDが空白のみ", func(q *Query) { q.SeekerID = "  " }, false},
		{"連絡先なし", func(q *Query) { q.SeekerContact = "" }, false},
		{"コードなし", func(q *Query) { q.Code = "" }, false},
		{"検索条件なしでも可", func(q *Query) { q.BloodGroup, q.Area = "", "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validQuery()
			tt.mutate(&q)
			if got := q.Requested(); got != tt.want {
				t.Errorf("Requested() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuery_Criteria(t *testing.T) {
	q := validQuery()
	q.Area = " North HALL "
	if got := q.Criteria(); got != "Area: north hall, BG: A+" {
		t.Errorf("Criteria() = %q", got)
	}
}

func TestSearch_SuccessLogsAndReturnsDonors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	match := &model.Donor{Name: "A", Phone: "1", Area: "North Hall", BloodGroup: model.BloodGroupAPos, IsAvailable: true}
	hidden := &model.Donor{Name: "B", Phone: "2", Area: "North Hall", BloodGroup: model.BloodGroupAPos, IsAvailable: false}
	other := &model.Donor{Name: "C", Phone: "3", Area: "North Hall", BloodGroup: model.BloodGroupBPos, IsAvailable: true}
	for _, d := range []*model.Donor{match, hidden, other} {
		if err := f.donors.Create(ctx, d); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	slot := slotWithCode("01811111111", "4821")
	got, err := f.svc.Search(ctx, slot, validQuery())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != match.ID {
		t.Errorf("results = %+v, want only the available A+ donor", got)
	}
	if slot.PendingOTP() != nil {
		t.Error("code should be consumed")
	}

	entries := f.logs.Entries()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.SeekerName != "Karim" || e.SeekerID != "STU-42" || e.SeekerContact != "01811111111" {
		t.Errorf("entry = %+v", e)
	}
	if e.Criteria != "Area: north, BG: A+" {
		t.Errorf("Criteria = %q", e.Criteria)
	}
	if e.ID == "" {
		t.Error("entry ID should be assigned")
	}
	if f.recorder.searches != 1 {
		t.Errorf("searches = %d, want 1", f.recorder.searches)
	}
}

func TestSearch_MissingSeekerFields(t *testing.T) {
	f := newFixture(t)
	q := validQuery()
	q.SeekerID = ""
	slot := slotWithCode(q.SeekerContact, q.Code)

	_, err := f.svc.Search(context.Background(), slot, q)
	assertAPIErrorCode(t, err, model.ErrCodeValidation)
	if slot.PendingOTP() == nil {
		t.Error("code must not be consumed")
	}
	if len(f.logs.Entries()) != 0 {
		t.Error("nothing should be logged")
	}
}

func TestSearch_UnknownBloodGroupKeepsCode(t *testing.T) {
	f := newFixture(t)
	q := validQuery()
	q.BloodGroup = "Q+"
	slot := slotWithCode(q.SeekerContact, q.Code)

	_, err := f.svc.Search(context.Background(), slot, q)
	assertAPIErrorCode(t, err, model.ErrCodeValidation)
	if slot.PendingOTP() == nil {
		t.Error("code must not be consumed")
	}
}

func TestSearch_OTPFailuresAreNotLogged(t *testing.T) {
	tests := []struct {
		name string
		slot *session.State
		want string
	}{
		{"未発行", &session.State{}, model.ErrCodeOTPExpired},
		{"コード不一致", slotWithCode("01811111111", "9999"), model.ErrCodeOTPMismatch},
		{"連絡先変更", slotWithCode("01899999999", "4821"), model.ErrCodeOTPContactChanged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Search(context.Background(), tt.slot, validQuery())
			assertAPIErrorCode(t, err, tt.want)
			if len(f.logs.Entries()) != 0 {
				t.Error("failed verification must not be logged")
			}
			if f.recorder.searches != 0 {
				t.Error("failed verification must not be counted")
			}
		})
	}
}

func TestSearch_CodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := slotWithCode("01811111111", "4821")

	if _, err := f.svc.Search(ctx, slot, validQuery()); err != nil {
		t.Fatalf("first Search: %v", err)
	}
	_, err := f.svc.Search(ctx, slot, validQuery())
	assertAPIErrorCode(t, err, model.ErrCodeOTPExpired)
	if len(f.logs.Entries()) != 1 {
		t.Errorf("log entries = %d, want 1", len(f.logs.Entries()))
	}
}

func TestSearch_FinderError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := otp.NewVerifier(delivery.NewConsoleSender(logger), nil, logger, otp.Config{})
	boom := errors.New("db down")
	finder := &mockFinder{findFn: func(ctx context.Context, filter donor.Filter) ([]*model.Donor, error) {
		return nil, boom
	}}
	svc := NewService(verifier, finder, repository.NewMemorySearchLogRepo(), nil, logger)

	_, err := svc.Search(context.Background(), slotWithCode("01811111111", "4821"), validQuery())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
