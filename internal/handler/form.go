package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/donorlink/internal/model"
)

// firstValue はkeysのうち最初に値が入っているフォーム項目を返す。
func firstValue(r *http.Request, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(r.FormValue(key)); v != "" {
			return v
		}
	}
	return ""
}

// parseYesNo は yes/no 形式の選択値を解釈する。未入力ならdefを返す。
func parseYesNo(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return def
	case "yes", "on", "true", "1":
		return true
	default:
		return false
	}
}

// parseOptionalInt は任意入力の整数項目を解釈する。
func parseOptionalInt(v, label string) (*int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, model.NewValidationError(label + "は整数で入力してください")
	}
	return &n, nil
}

// parseOptionalFloat は任意入力の数値項目を解釈する。
func parseOptionalFloat(v, label string) (*float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, model.NewValidationError(label + "は数値で入力してください")
	}
	return &f, nil
}

// parseProfileForm は登録・編集フォームに共通するプロフィール項目を読み取る。
// 数値項目が不正な場合も、再表示用に読み取れた項目を返す。
func parseProfileForm(r *http.Request) (model.DonorProfile, error) {
	profile := model.DonorProfile{
		Name:           r.FormValue("name"),
		Email:          r.FormValue("email"),
		Area:           r.FormValue("area"),
		BloodGroup:     r.FormValue("blood_group"),
		BloodAvailable: parseYesNo(r.FormValue("blood_available"), true),
		Gender:         r.FormValue("gender"),
		HealthStatus:   r.FormValue("health_status"),
	}

	age, err := parseOptionalInt(r.FormValue("age"), "年齢")
	if err != nil {
		return profile, err
	}
	profile.Age = age

	weight, err := parseOptionalFloat(r.FormValue("weight"), "体重")
	if err != nil {
		return profile, err
	}
	profile.Weight = weight
	return profile, nil
}
