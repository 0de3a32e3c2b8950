package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioConfig はSMS送信の認証情報。
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// messageCreator はTwilio Messages APIのうちSMS送信に使う部分。
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender はワンタイムコードをSMSで送信する。
type TwilioSender struct {
	api  messageCreator
	from string
}

// NewTwilioSender はTwilioSenderを生成する。認証情報が欠けている場合はエラーを返す。
func NewTwilioSender(cfg TwilioConfig) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, errors.New("missing twilio credentials")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, from: cfg.FromNumber}, nil
}

// Send はTwilio APIを同期的に呼び出す。twilio-goはcontextを受け取らないため、
// 呼び出し前にキャンセル済みかだけを確認する。
func (s *TwilioSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := RenderBody(msg)
	if err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(msg.To)
	params.SetBody(body)

	if _, err := s.api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	return nil
}

func (s *TwilioSender) Channel() string { return "sms" }

var _ Sender = (*TwilioSender)(nil)
