// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// BloodGroup は献血者の血液型を表す。
type BloodGroup string

// 受け付ける血液型
const (
	BloodGroupAPos  BloodGroup = "A+"
	BloodGroupANeg  BloodGroup = "A-"
	BloodGroupBPos  BloodGroup = "B+"
	BloodGroupBNeg  BloodGroup = "B-"
	BloodGroupABPos BloodGroup = "AB+"
	BloodGroupABNeg BloodGroup = "AB-"
	BloodGroupOPos  BloodGroup = "O+"
	BloodGroupONeg  BloodGroup = "O-"
)

// BloodGroups は画面の選択肢に表示する順序で全血液型を返す。
func BloodGroups() []BloodGroup {
	return []BloodGroup{
		BloodGroupAPos, BloodGroupANeg,
		BloodGroupBPos, BloodGroupBNeg,
		BloodGroupABPos, BloodGroupABNeg,
		BloodGroupOPos, BloodGroupONeg,
	}
}

// ParseBloodGroup は入力文字列を血液型に変換する。
// 前後の空白と大文字小文字の違いは許容する。
func ParseBloodGroup(s string) (BloodGroup, bool) {
	v := BloodGroup(strings.ToUpper(strings.TrimSpace(s)))
	for _, bg := range BloodGroups() {
		if v == bg {
			return bg, true
		}
	}
	return "", false
}

// Donor は登録済みの献血者を表す。
// IsAvailableが検索結果への表示可否を決める。
// BloodAvailableは本人申告として保存するが、参照系では使用しない。
type Donor struct {
	ID             int64
	Name           string
	Email          string
	Phone          string
	Area           string
	BloodGroup     BloodGroup
	BloodAvailable bool
	IsAvailable    bool
	Age            *int
	Gender         string
	Weight         *float64
	HealthStatus   string
	LastLogin      *time.Time
	CreatedAt      time.Time
}

// Contact は指定された連絡手段に対応する値を返す。
func (d *Donor) Contact(kind ContactKind) string {
	if kind == ContactEmail {
		return d.Email
	}
	return d.Phone
}

// DonorProfile は献血者本人が編集できる項目。
type DonorProfile struct {
	Name           string
	Email          string
	Area           string
	BloodGroup     string
	BloodAvailable bool
	Age            *int
	Gender         string
	Weight         *float64
	HealthStatus   string
}

// DonorFilter は検索条件を表す。空のフィールドは条件に含めない。
type DonorFilter struct {
	BloodGroup BloodGroup
	Area       string
}

// BloodGroupCount は血液型ごとの登録者数。
type BloodGroupCount struct {
	BloodGroup BloodGroup
	Count      int
}

// ContactKind はワンタイムコードの送付先として使う連絡手段。
type ContactKind string

const (
	// ContactPhone は電話番号（SMS）を表す。
	ContactPhone ContactKind = "phone"
	// ContactEmail はメールアドレスを表す。
	ContactEmail ContactKind = "email"
)

// YesNo は真偽値を画面・CSV表示用の yes/no に変換する。
func YesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
