package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/repository"
)

// --- モック定義 ---

// mockPurger はSessionPurgerのモック実装。
type mockPurger struct {
	calls    atomic.Int32
	deleteFn func(ctx context.Context) (int64, error)
}

func (m *mockPurger) DeleteExpired(ctx context.Context) (int64, error) {
	m.calls.Add(1)
	if m.deleteFn != nil {
		return m.deleteFn(ctx)
	}
	return 0, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogEntry はJSONログ行からkeyを含む最初のエントリを返す。
func findLogEntry(buf *bytes.Buffer, key string) map[string]interface{} {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if _, ok := entry[key]; ok {
			return entry
		}
	}
	return nil
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPurger{
		deleteFn: func(ctx context.Context) (int64, error) { return 42, nil },
	}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if mock.calls.Load() != 1 {
		t.Errorf("DeleteExpired の呼び出し回数 = %d, want 1", mock.calls.Load())
	}

	entry := findLogEntry(&buf, "deleted_count")
	if entry == nil || entry["deleted_count"] != float64(42) {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection reset")
	job := NewCleanupJob(&mockPurger{
		deleteFn: func(ctx context.Context) (int64, error) { return 0, dbErr },
	}, newTestLogger(&buf))

	err := job.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, dbErr)
	}

	entry := findLogEntry(&buf, "error")
	if entry == nil || entry["level"] != "ERROR" {
		t.Errorf("エラーログが出力されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_AgainstMemoryStore(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	sessions := []model.Session{
		{ID: "expired", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
		{ID: "live", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
	for i := range sessions {
		if err := store.Sessions.Create(ctx, &sessions[i]); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	job := NewCleanupJob(store.Sessions, newTestLogger(&buf))
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	entry := findLogEntry(&buf, "deleted_count")
	if entry == nil || entry["deleted_count"] != float64(1) {
		t.Errorf("ログに deleted_count=1 が記録されていない。ログ出力: %s", buf.String())
	}
	if s, _ := store.Sessions.FindByID(ctx, "live"); s == nil {
		t.Error("有効なセッションが削除された")
	}
}
