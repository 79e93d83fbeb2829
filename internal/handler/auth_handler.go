// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pft/internal/auth"
	"github.com/hitoshi/pft/internal/flash"
	"github.com/hitoshi/pft/internal/forms"
	"github.com/hitoshi/pft/internal/metrics"
	"github.com/hitoshi/pft/internal/middleware"
	"github.com/hitoshi/pft/internal/model"
	"github.com/hitoshi/pft/internal/token"
	"github.com/hitoshi/pft/internal/user"
	"github.com/hitoshi/pft/internal/view"
)

// 画面に表示するメッセージ。
const (
	MsgConfirmationResent = "A new confirmation email has been sent to you by email."
	MsgInvalidCredentials = "Invalid email or password."
	MsgLoggedOut          = "You have been logged out."
	MsgRegistered         = "A confirmation email has been sent to you by email."
	MsgConfirmed          = "You have confirmed your account. Thanks!"
	MsgConfirmFailed      = "The confirmation link is invalid or has expired."
	MsgPasswordUpdated    = "Your password has been updated."
	MsgInvalidPassword    = "Invalid password."
	MsgResetRequested     = "An email with instructions to reset your password has been sent to you."
	MsgEmailChangeSent    = "An email with instructions to confirm your new email address has been sent to you."
	MsgEmailUpdated       = "Your email address has been updated."
	MsgInvalidRequest     = "Invalid request."
)

const homePath = "/"

// SessionService はログイン・ログアウトとセッション操作に必要なサービスインターフェース。
type SessionService interface {
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
	NewSession() (*model.Session, error)
	SaveSession(ctx context.Context, session *model.Session) error
	StartSession(ctx context.Context, current *model.Session, userID string, remember bool) (*model.Session, error)
	EndSession(ctx context.Context, session *model.Session) error
	MaxAge(remember bool) int
}

// AccountService はアカウント管理に必要なサービスインターフェース。
// 操作対象のユーザーは常に明示的に渡す。
type AccountService interface {
	Register(ctx context.Context, email, password string) (*model.User, error)
	ResendConfirmation(ctx context.Context, u *model.User) error
	Confirm(ctx context.Context, u *model.User, tok string) error
	ChangePassword(ctx context.Context, u *model.User, oldPassword, newPassword string) error
	RequestPasswordReset(ctx context.Context, email, next string) error
	ResetPassword(ctx context.Context, tok, newPassword string) error
	RequestEmailChange(ctx context.Context, u *model.User, newEmail, password string) error
	ChangeEmail(ctx context.Context, u *model.User, tok string) error
	DeleteAccount(ctx context.Context, u *model.User) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler は/auth配下の画面を扱うHTTPハンドラー。
type AuthHandler struct {
	sessions SessionService
	accounts AccountService
	views    *view.Renderer
	metrics  metrics.Recorder
	config   AuthHandlerConfig
	now      func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	sessions SessionService,
	accounts AccountService,
	views *view.Renderer,
	recorder metrics.Recorder,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		accounts: accounts,
		views:    views,
		metrics:  recorder,
		config:   config,
		now:      time.Now,
	}
}

// Unconfirmed は未確認ユーザーに確認を促す画面を表示する。
// GET /auth/unconfirmed
func (h *AuthHandler) Unconfirmed(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if !identity.Authenticated() || identity.User.Confirmed {
		redirect(w, r, homePath)
		return
	}
	h.render(w, r, view.PageUnconfirmed, "Confirm your account", nil, nil)
}

// ResendConfirmation は確認メールを再送する。
// GET /auth/confirm
func (h *AuthHandler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	if err := h.accounts.ResendConfirmation(r.Context(), u); err != nil {
		serverError(w, "failed to resend confirmation", err)
		return
	}
	flash.Add(r.Context(), MsgConfirmationResent)
	redirect(w, r, homePath)
}

// Login はログインフォームの表示と認証を行う。
// GET, POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity.Authenticated() {
		redirect(w, r, homePath)
		return
	}

	form := &forms.LoginForm{}
	if forms.ValidateOnSubmit(r, form) {
		u, err := h.sessions.Authenticate(r.Context(), form.Email, form.Password)
		switch {
		case err == nil:
			session, err := h.sessions.StartSession(r.Context(), identity.Session, u.ID, form.RememberMe)
			if err != nil {
				serverError(w, "failed to start session", err)
				return
			}
			h.setSessionCookie(w, session.ID, form.RememberMe)
			h.metrics.RecordLogin(metrics.OutcomeSuccess)
			redirect(w, r, safeNext(r.URL.Query().Get("next")))
			return
		case errors.Is(err, auth.ErrInvalidCredentials):
			h.metrics.RecordLogin(metrics.OutcomeFailure)
			flash.Add(r.Context(), MsgInvalidCredentials)
		default:
			serverError(w, "failed to authenticate", err)
			return
		}
	}

	// 表示時には毎回ログイン画面の表示時刻をセッションに記録する
	if err := h.recordLoginTime(w, r, identity); err != nil {
		serverError(w, "failed to save session", err)
		return
	}
	h.render(w, r, view.PageLogin, "Log In", form, nil)
}

// Logout はセッションを破棄してログイン画面へ戻す。
// GET /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if err := h.sessions.EndSession(r.Context(), identity.Session); err != nil {
		// 失敗してもCookieはクリアする
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}
	h.clearSessionCookie(w)
	flash.Add(r.Context(), MsgLoggedOut)
	redirect(w, r, middleware.LoginPath)
}

// Register はユーザー登録フォームの表示と登録を行う。
// GET, POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if middleware.IdentityFromContext(r.Context()).Authenticated() {
		redirect(w, r, homePath)
		return
	}

	form := &forms.RegistrationForm{}
	if forms.ValidateOnSubmit(r, form) {
		_, err := h.accounts.Register(r.Context(), form.Email, form.Password)
		switch {
		case err == nil:
			flash.Add(r.Context(), MsgRegistered)
			redirect(w, r, middleware.LoginPath)
			return
		case errors.Is(err, user.ErrEmailTaken):
			form.Errors.Add("email", forms.MsgEmailTaken)
		default:
			serverError(w, "failed to register user", err)
			return
		}
	}
	h.render(w, r, view.PageRegister, "Register", form, nil)
}

// Confirm は確認トークンでアカウントを確認済みにする。
// GET /auth/confirm/{token}
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	if u.Confirmed {
		redirect(w, r, homePath)
		return
	}

	err := h.accounts.Confirm(r.Context(), u, chi.URLParam(r, "token"))
	switch {
	case err == nil:
		flash.Add(r.Context(), MsgConfirmed)
	case isTokenError(err):
		flash.Add(r.Context(), MsgConfirmFailed)
	default:
		serverError(w, "failed to confirm account", err)
		return
	}
	redirect(w, r, homePath)
}

// ChangePassword は現在のパスワードを確認してパスワードを変更する。
// GET, POST /auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	form := &forms.ChangePasswordForm{}
	if forms.ValidateOnSubmit(r, form) {
		err := h.accounts.ChangePassword(r.Context(), currentUser(r), form.OldPassword, form.Password)
		switch {
		case err == nil:
			flash.Add(r.Context(), MsgPasswordUpdated)
			redirect(w, r, homePath)
			return
		case errors.Is(err, user.ErrInvalidPassword):
			flash.Add(r.Context(), MsgInvalidPassword)
		default:
			serverError(w, "failed to change password", err)
			return
		}
	}
	h.render(w, r, view.PageChangePassword, "Change Password", form, nil)
}

// PasswordResetRequest はパスワード再設定メールを申請する。
// 登録の有無にかかわらず同じメッセージを表示する。
// GET, POST /auth/reset
func (h *AuthHandler) PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	if middleware.IdentityFromContext(r.Context()).Authenticated() {
		redirect(w, r, homePath)
		return
	}

	form := &forms.PasswordResetRequestForm{}
	if forms.ValidateOnSubmit(r, form) {
		if err := h.accounts.RequestPasswordReset(r.Context(), form.Email, r.URL.Query().Get("next")); err != nil {
			serverError(w, "failed to request password reset", err)
			return
		}
		flash.Add(r.Context(), MsgResetRequested)
		redirect(w, r, middleware.LoginPath)
		return
	}
	h.render(w, r, view.PageResetPassword, "Reset Password", form, map[string]any{"WithToken": false})
}

// PasswordReset は再設定トークンで新しいパスワードを設定する。
// トークンが無効な場合はメッセージなしでホームへ戻す。
// GET, POST /auth/reset/{token}
func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	if middleware.IdentityFromContext(r.Context()).Authenticated() {
		redirect(w, r, homePath)
		return
	}

	form := &forms.PasswordResetForm{}
	if forms.ValidateOnSubmit(r, form) {
		err := h.accounts.ResetPassword(r.Context(), chi.URLParam(r, "token"), form.Password)
		switch {
		case err == nil:
			flash.Add(r.Context(), MsgPasswordUpdated)
			redirect(w, r, middleware.LoginPath)
		case isTokenError(err):
			redirect(w, r, homePath)
		default:
			serverError(w, "failed to reset password", err)
		}
		return
	}
	h.render(w, r, view.PageResetPassword, "Reset Password", form, map[string]any{"WithToken": true})
}

// ChangeEmailRequest はパスワードを確認し、新しいメールアドレスへ確認メールを送る。
// GET, POST /auth/change_email
func (h *AuthHandler) ChangeEmailRequest(w http.ResponseWriter, r *http.Request) {
	form := &forms.ChangeEmailForm{}
	if forms.ValidateOnSubmit(r, form) {
		err := h.accounts.RequestEmailChange(r.Context(), currentUser(r), form.Email, form.Password)
		switch {
		case err == nil:
			flash.Add(r.Context(), MsgEmailChangeSent)
			redirect(w, r, homePath)
			return
		case errors.Is(err, user.ErrInvalidPassword):
			flash.Add(r.Context(), MsgInvalidCredentials)
		case errors.Is(err, user.ErrEmailTaken):
			form.Errors.Add("email", forms.MsgEmailTaken)
		default:
			serverError(w, "failed to request email change", err)
			return
		}
	}
	h.render(w, r, view.PageChangeEmail, "Change Email Address", form, nil)
}

// ChangeEmail はメールアドレス変更トークンを適用する。
// GET /auth/change_email/{token}
func (h *AuthHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	err := h.accounts.ChangeEmail(r.Context(), currentUser(r), chi.URLParam(r, "token"))
	switch {
	case err == nil:
		flash.Add(r.Context(), MsgEmailUpdated)
	case isTokenError(err), errors.Is(err, user.ErrEmailTaken):
		flash.Add(r.Context(), MsgInvalidRequest)
	default:
		serverError(w, "failed to change email", err)
		return
	}
	redirect(w, r, homePath)
}

// DeleteUser はアカウント削除の確認画面の表示と削除を行う。
// 「いいえ」が選ばれた場合は何もしない。
// GET, POST /auth/delete_user
func (h *AuthHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	form := &forms.DeleteUserForm{}
	if forms.ValidateOnSubmit(r, form) {
		if form.Yes {
			if err := h.accounts.DeleteAccount(r.Context(), currentUser(r)); err != nil {
				serverError(w, "failed to delete user", err)
				return
			}
			// セッションはユーザーとともに削除済み
			h.clearSessionCookie(w)
		}
		redirect(w, r, homePath)
		return
	}
	h.render(w, r, view.PageDeleteUser, "Delete Account", form, nil)
}

// recordLoginTime はログイン画面の表示時刻をセッションに保存する。
// セッションがなければ匿名セッションを作成してCookieを発行する。
func (h *AuthHandler) recordLoginTime(w http.ResponseWriter, r *http.Request, identity *middleware.Identity) error {
	session := identity.Session
	isNew := session == nil
	if isNew {
		var err error
		session, err = h.sessions.NewSession()
		if err != nil {
			return err
		}
	}

	session.SetLoginTime(h.now())
	if err := h.sessions.SaveSession(r.Context(), session); err != nil {
		return err
	}
	if isNew {
		identity.Session = session
		h.setSessionCookie(w, session.ID, false)
	}
	return nil
}

func (h *AuthHandler) render(w http.ResponseWriter, r *http.Request, page, title string, form any, values map[string]any) {
	renderPage(w, r, h.views, page, title, form, values)
}

// setSessionCookie はセッションCookieを設定する。
// rememberがfalseの場合はブラウザを閉じると消えるCookieにする。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string, remember bool) {
	cookie := &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if remember {
		cookie.MaxAge = h.sessions.MaxAge(true)
	}
	http.SetCookie(w, cookie)
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// currentUser はRequireLogin配下のハンドラーでログイン中のユーザーを返す。
func currentUser(r *http.Request) *model.User {
	return middleware.IdentityFromContext(r.Context()).User
}

// safeNext はログイン後のリダイレクト先を返す。
// ホストやスキームを含む外部URLは受け付けずホームに置き換える。
func safeNext(next string) string {
	if next == "" || strings.HasPrefix(next, "/\\") {
		return homePath
	}
	u, err := url.Parse(next)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return homePath
	}
	return next
}

func isTokenError(err error) bool {
	return errors.Is(err, token.ErrInvalid) ||
		errors.Is(err, token.ErrExpired) ||
		errors.Is(err, token.ErrMismatched)
}

func redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusFound)
}

func serverError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
