package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/donorlink/internal/model"
)

// errorResponseBody はミドルウェアが返すエラーレスポンス。
// ハンドラーのJSONエラーと同じ形式にそろえる。
type errorResponseBody struct {
	Success  bool   `json:"success"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIError は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func writeAPIError(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponseBody{
		Success:  false,
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}
