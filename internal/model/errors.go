// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, otp, conflict, auth, not_found, security, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeOTPExpired         = "OTP_EXPIRED"
	ErrCodeOTPMismatch        = "OTP_MISMATCH"
	ErrCodeOTPContactChanged  = "OTP_CONTACT_CHANGED"
	ErrCodeDuplicateContact   = "DUPLICATE_CONTACT"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeDonorNotFound      = "DONOR_NOT_FOUND"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRF               = "CSRF_TOKEN_INVALID"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryOTP        = "otp"
	CategoryConflict   = "conflict"
	CategoryAuth       = "auth"
	CategoryNotFound   = "not_found"
	CategorySystem     = "system"
	CategorySecurity   = "security"
)

// NewValidationError は入力値が不正な場合のエラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認して再度送信してください。",
	}
}

// NewOTPExpiredError は有効なワンタイムコードが存在しない場合のエラーを生成する。
func NewOTPExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPExpired,
		Message:  "確認コードが発行されていないか、すでに使用されています。",
		Category: CategoryOTP,
		Action:   "確認コードを再送信してください。",
	}
}

// NewOTPMismatchError は確認コードが一致しない場合のエラーを生成する。
func NewOTPMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPMismatch,
		Message:  "確認コードが正しくありません。",
		Category: CategoryOTP,
		Action:   "届いた4桁のコードを確認して入力してください。",
	}
}

// NewOTPContactChangedError はコード発行後に送付先が変更された場合のエラーを生成する。
func NewOTPContactChangedError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPContactChanged,
		Message:  "確認コードを送信した連絡先と入力された連絡先が異なります。",
		Category: CategoryOTP,
		Action:   "連絡先を変更した場合は確認コードを再送信してください。",
	}
}

// NewDuplicateContactError は電話番号またはメールアドレスが登録済みの場合のエラーを生成する。
func NewDuplicateContactError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateContact,
		Message:  "この電話番号またはメールアドレスはすでに登録されています。",
		Category: CategoryConflict,
		Action:   "登録済みの場合は献血者ログインからプロフィールを編集してください。",
	}
}

// NewInvalidCredentialsError は管理者認証に失敗した場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: CategoryAuth,
		Action:   "入力内容を確認してください。",
	}
}

// NewDonorNotFoundError は認証済みの連絡先に献血者が存在しない場合のエラーを生成する。
func NewDonorNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeDonorNotFound,
		Message:  "この連絡先で登録された献血者が見つかりません。",
		Category: CategoryAuth,
		Action:   "先に献血者登録を行ってください。",
	}
}

// NewNotFoundError は指定された献血者が存在しない場合のエラーを生成する。
func NewNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された献血者が見つかりません: %d", id),
		Category: CategoryNotFound,
		Action:   "再度ログインしてください。",
	}
}

// NewRateLimitError は同一クライアントからのリクエストが多すぎる場合のエラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。しばらく待ってから再度お試しください。",
		Category: CategorySecurity,
		Action:   "指定された時間が経過してから再試行してください。",
	}
}

// NewCSRFError はCSRFトークンが欠けているか一致しない場合のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "フォームの有効期限が切れました。",
		Category: CategorySecurity,
		Action:   "ページを再読み込みしてから再度送信してください。",
	}
}

// NewInternalError はユーザーに詳細を見せない内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
