package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ルートの名前空間。
const (
	NamespaceAuth   = "auth"
	NamespaceStatic = "static"
	NamespaceWeb    = "web"
)

// UnconfirmedPath は未確認ユーザーの案内画面のパス。
const UnconfirmedPath = "/auth/unconfirmed"

// GateRequest は確認ゲートの判定材料。
type GateRequest struct {
	Authenticated bool
	Confirmed     bool
	Namespace     string
}

// GatePredicate はリクエストを案内画面へリダイレクトすべきときにtrueを返す。
type GatePredicate func(req GateRequest) bool

// NamespaceResolver はリクエストの行き先の名前空間を返す。
// どのルートにも一致しない場合はfalseを返す。
type NamespaceResolver func(r *http.Request) (string, bool)

// DefaultGatePredicate はログイン済みかつ未確認のユーザーを、
// 認証画面と静的ファイル以外へ進ませない。
func DefaultGatePredicate(req GateRequest) bool {
	return req.Authenticated &&
		!req.Confirmed &&
		req.Namespace != NamespaceAuth &&
		req.Namespace != NamespaceStatic
}

// RouteNamespaceResolver はroutesに一致するリクエストの名前空間を
// パスの先頭セグメントから決める。/auth、/static以外はweb。
func RouteNamespaceResolver(routes chi.Routes) NamespaceResolver {
	return func(r *http.Request) (string, bool) {
		if !routes.Match(chi.NewRouteContext(), r.Method, r.URL.Path) {
			return "", false
		}
		segment, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		switch segment {
		case NamespaceAuth, NamespaceStatic:
			return segment, true
		}
		return NamespaceWeb, true
	}
}

// NewConfirmationGate は全リクエストの前段で確認状態を検査するミドルウェアを返す。
// ルーター全体に一度だけ登録する。セッションミドルウェアより後に配置すること。
func NewConfirmationGate(predicate GatePredicate, resolver NamespaceResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if !identity.Authenticated() {
				next.ServeHTTP(w, r)
				return
			}

			namespace, ok := resolver(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			req := GateRequest{
				Authenticated: true,
				Confirmed:     identity.User.Confirmed,
				Namespace:     namespace,
			}
			if predicate(req) {
				http.Redirect(w, r, UnconfirmedPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
