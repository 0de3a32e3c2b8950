// Package search はワンタイムコードで本人確認した検索者向けの献血者検索を提供する。
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/donorlink/internal/donor"
	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/otp"
	"github.com/hitoshi/donorlink/internal/repository"
)

// Verifier はワンタイムコードの照合に必要なインターフェース。
type Verifier interface {
	Verify(slot otp.Slot, contact, code string) error
}

// Finder は表示可能な献血者の絞り込みに必要なインターフェース。
type Finder interface {
	FindAvailable(ctx context.Context, filter donor.Filter) ([]*model.Donor, error)
}

// Recorder は検索完了を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordSearch()
}

// Query は検索フォームの入力内容。
type Query struct {
	SeekerName    string
	SeekerID      string
	SeekerContact string
	Code          string
	BloodGroup    string
	Area          string
}

// Requested は検索者情報とコードがすべて入力されているかを返す。
// 未入力のフォーム表示では検索も記録も行わない。
func (q Query) Requested() bool {
	return strings.TrimSpace(q.SeekerName) != "" &&
		strings.TrimSpace(q.SeekerID) != "" &&
		strings.TrimSpace(q.SeekerContact) != "" &&
		strings.TrimSpace(q.Code) != ""
}

// Criteria は監査ログに記録する検索条件の文字列を返す。
func (q Query) Criteria() string {
	return fmt.Sprintf("Area: %s, BG: %s",
		strings.ToLower(strings.TrimSpace(q.Area)),
		strings.TrimSpace(q.BloodGroup),
	)
}

// Service は検索のサービス層。
type Service struct {
	verifier Verifier
	finder   Finder
	logs     repository.SearchLogRepository
	recorder Recorder
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(verifier Verifier, finder Finder, logs repository.SearchLogRepository, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		verifier: verifier,
		finder:   finder,
		logs:     logs,
		recorder: recorder,
		logger:   logger,
	}
}

// Search は検索者のコードを照合し、監査ログを記録してから検索結果を返す。
func (s *Service) Search(ctx context.Context, slot otp.Slot, q Query) ([]*model.Donor, error) {
	// 1. 入力チェック（コードを消費する前に行う）
	if !q.Requested() {
		return nil, model.NewValidationError("検索者の氏名・ID・連絡先・確認コードはすべて必須です")
	}
	if bg := strings.TrimSpace(q.BloodGroup); bg != "" {
		if _, ok := model.ParseBloodGroup(bg); !ok {
			return nil, model.NewValidationError(fmt.Sprintf("不明な血液型です: %s", bg))
		}
	}

	// 2. ワンタイムコードの照合
	if err := s.verifier.Verify(slot, q.SeekerContact, q.Code); err != nil {
		return nil, err
	}

	// 3. 監査ログの記録
	entry := &model.SearchLogEntry{
		SeekerName:    strings.TrimSpace(q.SeekerName),
		SeekerID:      strings.TrimSpace(q.SeekerID),
		SeekerContact: strings.TrimSpace(q.SeekerContact),
		Criteria:      q.Criteria(),
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("検索ログの記録に失敗しました: %w", err)
	}

	// 4. 検索
	donors, err := s.finder.FindAvailable(ctx, donor.Filter{
		BloodGroup: q.BloodGroup,
		Area:       q.Area,
	})
	if err != nil {
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.RecordSearch()
	}
	s.logger.InfoContext(ctx, "donor search completed",
		slog.String("search_log_id", entry.ID),
		slog.Int("results", len(donors)),
	)
	return donors, nil
}
