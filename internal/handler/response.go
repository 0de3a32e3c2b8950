package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/donorlink/internal/middleware"
	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/session"
)

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Success  bool   `json:"success"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse はAPIErrorをJSON形式で書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Success:  false,
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層のエラーをJSONレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := resolveServiceError(r, err)
	writeAPIErrorResponse(w, status, apiErr)
}

// resolveServiceError はエラーをHTTPステータスと画面に表示するAPIErrorに変換する。
// APIError以外のエラーはログに記録し、詳細を伏せた内部エラーとして扱う。
func resolveServiceError(r *http.Request, err error) (int, *model.APIError) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return mapAPIErrorToHTTPStatus(apiErr), apiErr
	}

	slog.ErrorContext(r.Context(), "unexpected service error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	return http.StatusInternalServerError, model.NewInternalError()
}

// mapAPIErrorToHTTPStatus はAPIErrorのコードからHTTPステータスコードを決定する。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeOTPExpired, model.ErrCodeOTPMismatch, model.ErrCodeOTPContactChanged:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidCredentials, model.ErrCodeDonorNotFound:
		return http.StatusUnauthorized
	case model.ErrCodeDuplicateContact:
		return http.StatusConflict
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// sessionFrom はリクエストのセッション状態を返す。
// セッションミドルウェアを通過していない場合は保存されない空の状態を返す。
func sessionFrom(r *http.Request) *session.State {
	if state := middleware.SessionFromContext(r.Context()); state != nil {
		return state
	}
	return &session.State{}
}

// redirect は303でリダイレクトする。
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}
