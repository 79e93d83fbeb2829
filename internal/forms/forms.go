// Package forms は認証画面のフォーム入力の取り込みと検証を提供する。
package forms

import (
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"
)

// 検証メッセージ。
const (
	MsgRequired      = "This field is required."
	MsgEmailLength   = "Field must be between 1 and 64 characters long."
	MsgInvalidEmail  = "Invalid email address."
	MsgPasswordMatch = "Passwords must match."
	MsgEmailTaken    = "Email already registered."
)

const maxEmailLength = 64

// Errors はフィールド名ごとの検証エラー。
type Errors map[string][]string

// Add はフィールドにエラーを追加する。
func (e Errors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Get はフィールドの最初のエラーを返す。
func (e Errors) Get(field string) string {
	if msgs := e[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// Form は送信値を取り込み、検証できるフォーム。
type Form interface {
	Bind(values url.Values)
	Validate() bool
}

// ValidateOnSubmit はPOSTリクエストの場合のみフォームを取り込んで検証する。
// GETなどそれ以外のメソッドでは常にfalseを返す。
func ValidateOnSubmit(r *http.Request, f Form) bool {
	if r.Method != http.MethodPost {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	f.Bind(r.PostForm)
	return f.Validate()
}

func required(errs Errors, field, value string) bool {
	if strings.TrimSpace(value) == "" {
		errs.Add(field, MsgRequired)
		return false
	}
	return true
}

func validEmail(errs Errors, field, value string) {
	if !required(errs, field, value) {
		return
	}
	if utf8.RuneCountInString(value) > maxEmailLength {
		errs.Add(field, MsgEmailLength)
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		errs.Add(field, MsgInvalidEmail)
	}
}

func passwordsMatch(errs Errors, field, password, confirm string) {
	if password != confirm {
		errs.Add(field, MsgPasswordMatch)
	}
}

func checked(values url.Values, field string) bool {
	switch values.Get(field) {
	case "", "0", "false", "off", "n", "no":
		return false
	}
	return true
}

// LoginForm はログインフォーム。
type LoginForm struct {
	Email      string
	Password   string
	RememberMe bool
	Errors     Errors
}

// Bind はメールアドレス、パスワード、ログイン状態の保持を取り込む。
func (f *LoginForm) Bind(v url.Values) {
	f.Email = strings.TrimSpace(v.Get("email"))
	f.Password = v.Get("password")
	f.RememberMe = checked(v, "remember_me")
}

// Validate はメールアドレスの形式とパスワードの入力を検証する。
func (f *LoginForm) Validate() bool {
	f.Errors = Errors{}
	validEmail(f.Errors, "email", f.Email)
	required(f.Errors, "password", f.Password)
	return len(f.Errors) == 0
}

// RegistrationForm はユーザー登録フォーム。
type RegistrationForm struct {
	Email     string
	Password  string
	Password2 string
	Errors    Errors
}

// Bind はメールアドレスと確認用を含むパスワードを取り込む。
func (f *RegistrationForm) Bind(v url.Values) {
	f.Email = strings.TrimSpace(v.Get("email"))
	f.Password = v.Get("password")
	f.Password2 = v.Get("password2")
}

// Validate はメールアドレスの形式とパスワードの一致を検証する。
// 登録済みかどうかはサービス側で判定する。
func (f *RegistrationForm) Validate() bool {
	f.Errors = Errors{}
	validEmail(f.Errors, "email", f.Email)
	if required(f.Errors, "password", f.Password) {
		passwordsMatch(f.Errors, "password", f.Password, f.Password2)
	}
	required(f.Errors, "password2", f.Password2)
	return len(f.Errors) == 0
}

// ChangePasswordForm はパスワード変更フォーム。
type ChangePasswordForm struct {
	OldPassword string
	Password    string
	Password2   string
	Errors      Errors
}

// Bind は現在のパスワードと新しいパスワードを取り込む。
func (f *ChangePasswordForm) Bind(v url.Values) {
	f.OldPassword = v.Get("old_password")
	f.Password = v.Get("password")
	f.Password2 = v.Get("password2")
}

// Validate は全項目の入力と新しいパスワードの一致を検証する。
func (f *ChangePasswordForm) Validate() bool {
	f.Errors = Errors{}
	required(f.Errors, "old_password", f.OldPassword)
	if required(f.Errors, "password", f.Password) {
		passwordsMatch(f.Errors, "password", f.Password, f.Password2)
	}
	required(f.Errors, "password2", f.Password2)
	return len(f.Errors) == 0
}

// PasswordResetRequestForm はパスワード再設定の申請フォーム。
type PasswordResetRequestForm struct {
	Email  string
	Errors Errors
}

// Bind はメールアドレスを取り込む。
func (f *PasswordResetRequestForm) Bind(v url.Values) {
	f.Email = strings.TrimSpace(v.Get("email"))
}

// Validate はメールアドレスの形式を検証する。
func (f *PasswordResetRequestForm) Validate() bool {
	f.Errors = Errors{}
	validEmail(f.Errors, "email", f.Email)
	return len(f.Errors) == 0
}

// PasswordResetForm はトークンによるパスワード再設定フォーム。
type PasswordResetForm struct {
	Password  string
	Password2 string
	Errors    Errors
}

// Bind は新しいパスワードと確認用を取り込む。
func (f *PasswordResetForm) Bind(v url.Values) {
	f.Password = v.Get("password")
	f.Password2 = v.Get("password2")
}

// Validate は新しいパスワードの入力と一致を検証する。
func (f *PasswordResetForm) Validate() bool {
	f.Errors = Errors{}
	if required(f.Errors, "password", f.Password) {
		passwordsMatch(f.Errors, "password", f.Password, f.Password2)
	}
	required(f.Errors, "password2", f.Password2)
	return len(f.Errors) == 0
}

// ChangeEmailForm はメールアドレス変更フォーム。
type ChangeEmailForm struct {
	Email    string
	Password string
	Errors   Errors
}

// Bind は新しいメールアドレスとパスワードを取り込む。
func (f *ChangeEmailForm) Bind(v url.Values) {
	f.Email = strings.TrimSpace(v.Get("email"))
	f.Password = v.Get("password")
}

// Validate は新しいメールアドレスの形式とパスワードの入力を検証する。
func (f *ChangeEmailForm) Validate() bool {
	f.Errors = Errors{}
	validEmail(f.Errors, "email", f.Email)
	required(f.Errors, "password", f.Password)
	return len(f.Errors) == 0
}

// DeleteUserForm はアカウント削除の確認フォーム。
// 押されたボタン（yes / no）を記録する。Yesのときだけ削除する。
type DeleteUserForm struct {
	Yes    bool
	No     bool
	Errors Errors
}

// Bind は押されたボタンを取り込む。
func (f *DeleteUserForm) Bind(v url.Values) {
	f.Yes = v.Has("yes")
	f.No = v.Has("no")
}

// Validate は常に成功する。
// 「はい」以外の送信（「いいえ」やボタンなし）は削除しない選択として扱う。
func (f *DeleteUserForm) Validate() bool {
	f.Errors = Errors{}
	return true
}
