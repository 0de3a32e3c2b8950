// Package delivery はワンタイムコードを利用者へ届ける送信チャネルを提供する。
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"
)

// Message は送信するワンタイムコードの内容。
type Message struct {
	To              string
	Code            string
	ValidityMinutes int
}

// Sender はワンタイムコードの送信チャネル。
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Channel はメトリクスとログに使うチャネル名を返す。
	Channel() string
}

var bodyTemplate = template.Must(template.New("otp").Parse(
	`献血者ディレクトリの確認コード: {{.Code}}
{{if gt .ValidityMinutes 0}}このコードは{{.ValidityMinutes}}分以内にご利用ください。
{{end}}心当たりがない場合はこのメッセージを破棄してください。`))

// RenderBody はSMS・メール共通の本文を生成する。
func RenderBody(msg Message) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, msg); err != nil {
		return "", fmt.Errorf("failed to render message body: %w", err)
	}
	return buf.String(), nil
}

// ConsoleSender はコードを構造化ログに出力する開発用チャネル。
type ConsoleSender struct {
	logger *slog.Logger
}

// NewConsoleSender はConsoleSenderを生成する。
func NewConsoleSender(logger *slog.Logger) *ConsoleSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleSender{logger: logger}
}

func (s *ConsoleSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "one-time code (console delivery)",
		slog.String("to", msg.To),
		slog.String("code", msg.Code),
	)
	return nil
}

func (s *ConsoleSender) Channel() string { return "console" }

// FallbackSender は主チャネルの送信に失敗した場合に副チャネルへ切り替える。
type FallbackSender struct {
	primary   Sender
	secondary Sender
	logger    *slog.Logger
}

// WithFallback はprimaryが失敗したときにsecondaryで再送するSenderを返す。
func WithFallback(primary, secondary Sender, logger *slog.Logger) *FallbackSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackSender{primary: primary, secondary: secondary, logger: logger}
}

func (s *FallbackSender) Send(ctx context.Context, msg Message) error {
	err := s.primary.Send(ctx, msg)
	if err == nil {
		return nil
	}

	s.logger.WarnContext(ctx, "primary delivery failed, falling back",
		slog.String("channel", s.primary.Channel()),
		slog.String("fallback", s.secondary.Channel()),
		slog.String("error", err.Error()),
	)
	if fbErr := s.secondary.Send(ctx, msg); fbErr != nil {
		return fmt.Errorf("%s: %w; %s: %v", s.primary.Channel(), err, s.secondary.Channel(), fbErr)
	}
	return nil
}

func (s *FallbackSender) Channel() string { return s.primary.Channel() }

// compile-time interface check
var (
	_ Sender = (*ConsoleSender)(nil)
	_ Sender = (*FallbackSender)(nil)
)
