// Package otp はセッション単位のワンタイムコードの発行と照合を提供する。
//
// 未使用のコードはセッションごとに1件だけ保持し、再発行で上書きする。
// 照合に成功したコードは即座に破棄され、失敗した照合ではコードを消費しない。
// 有効期限のタイマーは持たず、ValidityMinutesは案内文にのみ使用する。
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/hitoshi/donorlink/internal/delivery"
	"github.com/hitoshi/donorlink/internal/model"
)

const (
	codeMin = 1000
	codeMax = 9999
)

// 照合結果のラベル
const (
	ResultSuccess        = "success"
	ResultExpired        = "expired"
	ResultMismatch       = "mismatch"
	ResultContactChanged = "contact_changed"
)

// Slot はワンタイムコードの保存先。セッション状態が実装する。
type Slot interface {
	PendingOTP() *model.PendingOTP
	SetPendingOTP(p *model.PendingOTP)
}

// Recorder は発行・照合・送信失敗を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordOTPIssued()
	RecordOTPVerification(result string)
	RecordDeliveryFailure(channel string)
}

// Config はVerifierの設定。
type Config struct {
	ValidityMinutes int
}

// Verifier はワンタイムコードの発行と照合を行う。
type Verifier struct {
	sender   delivery.Sender
	recorder Recorder
	logger   *slog.Logger
	config   Config

	random io.Reader
	now    func() time.Time
}

// NewVerifier はVerifierを生成する。recorderはnilでもよい。
func NewVerifier(sender delivery.Sender, recorder Recorder, logger *slog.Logger, config Config) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		sender:   sender,
		recorder: recorder,
		logger:   logger,
		config:   config,
		random:   rand.Reader,
		now:      time.Now,
	}
}

// ValidityMinutes は案内文に表示する有効時間（分）を返す。
func (v *Verifier) ValidityMinutes() int {
	return v.config.ValidityMinutes
}

// Issue は新しいコードを生成してslotに保存し、contact宛てに送信する。
// 以前のコードは上書きされる。送信失敗はログに記録するだけで発行自体は成功とする。
func (v *Verifier) Issue(ctx context.Context, slot Slot, contact string) error {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return model.NewValidationError("連絡先が入力されていません")
	}

	code, err := GenerateCode(v.random)
	if err != nil {
		return fmt.Errorf("failed to generate one-time code: %w", err)
	}

	// 1. 送信前に保存する（送信が遅延・失敗しても照合できるようにする）
	slot.SetPendingOTP(&model.PendingOTP{
		Code:     code,
		Contact:  contact,
		IssuedAt: v.now(),
	})
	if v.recorder != nil {
		v.recorder.RecordOTPIssued()
	}

	// 2. 送信
	err = v.sender.Send(ctx, delivery.Message{
		To:              contact,
		Code:            code,
		ValidityMinutes: v.config.ValidityMinutes,
	})
	if err != nil {
		v.logger.ErrorContext(ctx, "one-time code delivery failed",
			slog.String("channel", v.sender.Channel()),
			slog.String("error", err.Error()),
		)
		if v.recorder != nil {
			v.recorder.RecordDeliveryFailure(v.sender.Channel())
		}
	}

	return nil
}

// Verify はslotに保存されたコードとcodeおよびcontactを照合する。
// 判定順は 未発行 → コード不一致 → 連絡先不一致。成功時のみコードを破棄する。
func (v *Verifier) Verify(slot Slot, contact, code string) error {
	result, err := verify(slot, strings.TrimSpace(contact), strings.TrimSpace(code))
	if v.recorder != nil {
		v.recorder.RecordOTPVerification(result)
	}
	return err
}

func verify(slot Slot, contact, code string) (string, error) {
	pending := slot.PendingOTP()
	if pending == nil {
		return ResultExpired, model.NewOTPExpiredError()
	}
	if pending.Code != code {
		return ResultMismatch, model.NewOTPMismatchError()
	}
	if pending.Contact != contact {
		return ResultContactChanged, model.NewOTPContactChangedError()
	}

	slot.SetPendingOTP(nil)
	return ResultSuccess, nil
}

// GenerateCode は1000〜9999の一様乱数を4桁の文字列で返す。
func GenerateCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+codeMin), nil
}
