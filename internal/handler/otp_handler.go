package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/otp"
)

// maxOTPRequestBody はワンタイムコード発行リクエストのボディ上限。
const maxOTPRequestBody = 4 << 10

// OTPIssuer はワンタイムコードの発行に必要なインターフェース。
type OTPIssuer interface {
	// Issue はコードを生成してslotに保存し、contact宛てに送信する。
	Issue(ctx context.Context, slot otp.Slot, contact string) error
	// ValidityMinutes は案内文に表示する有効時間（分）を返す。
	ValidityMinutes() int
}

// OTPHandler はワンタイムコード発行のHTTPハンドラー。
type OTPHandler struct {
	issuer OTPIssuer
}

// NewOTPHandler はOTPHandlerを生成する。
func NewOTPHandler(issuer OTPIssuer) *OTPHandler {
	return &OTPHandler{issuer: issuer}
}

// sendOTPRequest はコード発行リクエストのボディ。
// 送付先はcontactで受け取り、phoneとemailも別名として受け付ける。
type sendOTPRequest struct {
	Contact string `json:"contact"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

func (req sendOTPRequest) contact() string {
	for _, v := range []string{req.Contact, req.Phone, req.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// sendOTPResponse はコード発行のレスポンス。コードそのものは含めない。
type sendOTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SendOTP はワンタイムコードを発行して送付先へ送信する。
// POST /send_otp
func (h *OTPHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSendOTPRequest(w, r)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	if err := h.issuer.Issue(r.Context(), sessionFrom(r), req.contact()); err != nil {
		handleServiceError(w, r, err)
		return
	}

	message := "確認コードを送信しました。"
	if minutes := h.issuer.ValidityMinutes(); minutes > 0 {
		message = fmt.Sprintf("確認コードを送信しました。%d分以内に入力してください。", minutes)
	}
	writeJSON(w, http.StatusOK, sendOTPResponse{Success: true, Message: message})
}

// decodeSendOTPRequest はJSONまたはフォームのボディを読み取る。
func decodeSendOTPRequest(w http.ResponseWriter, r *http.Request) (sendOTPRequest, error) {
	var req sendOTPRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOTPRequestBody)).Decode(&req); err != nil {
			return req, err
		}
		return req, nil
	}

	req.Contact = r.PostFormValue("contact")
	req.Phone = r.PostFormValue("phone")
	req.Email = r.PostFormValue("email")
	return req, nil
}
