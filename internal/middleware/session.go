// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/pft/internal/flash"
	"github.com/hitoshi/pft/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// MsgLoginRequired はログインが必要なページへの未認証アクセス時に表示するメッセージ。
const MsgLoginRequired = "Please log in to access this page."

// LoginPath はログイン画面のパス。
const LoginPath = "/auth/login"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに現在の利用者を格納するためのキー。
var identityContextKey = contextKey("identity")

// SessionLoader はセッションとその所有ユーザーの読み込みに必要なインターフェース。
// auth.Serviceが実装する。
type SessionLoader interface {
	LoadSession(ctx context.Context, sessionID string) (*model.Session, *model.User, error)
}

// Identity はリクエストを送ってきた利用者。
// Sessionはセッションが存在しない場合nil、Userは匿名の場合nil。
type Identity struct {
	Session *model.Session
	User    *model.User
}

// Authenticated はログイン済みかどうかを返す。
func (i *Identity) Authenticated() bool {
	return i != nil && i.User != nil
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 現在の利用者をリクエストコンテキストに注入するミドルウェアを返す。
// 匿名のリクエストもそのまま通過させる。
func NewSessionMiddleware(loader SessionLoader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := &Identity{}

			if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
				session, user, err := loader.LoadSession(r.Context(), cookie.Value)
				if err != nil {
					slog.Error("failed to load session",
						slog.String("error", err.Error()),
					)
					http.Error(w, "internal server error", http.StatusInternalServerError)
					return
				}
				// 削除済みユーザーのセッションは引き継がない
				if session != nil && (session.IsAnonymous() || user != nil) {
					identity.Session = session
					identity.User = user
				}
			}

			ctx := ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireLogin は未認証のリクエストをログイン画面へリダイレクトするミドルウェア。
// 元のリクエストURIはnextパラメータとして引き継ぐ。
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFromContext(r.Context()).Authenticated() {
			flash.Add(r.Context(), MsgLoginRequired)
			target := LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext はリクエストコンテキストから現在の利用者を取得する。
// セッションミドルウェアを通過していない場合は匿名の利用者を返す。
func IdentityFromContext(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(identityContextKey).(*Identity); ok && identity != nil {
		return identity
	}
	return &Identity{}
}

// ContextWithIdentity はコンテキストに利用者を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// UserIDFromContext はリクエストコンテキストからログイン中のユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity := IdentityFromContext(ctx)
	if !identity.Authenticated() {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.User.ID, nil
}
