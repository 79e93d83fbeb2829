package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pft/internal/flash"
	"github.com/hitoshi/pft/internal/metrics"
	"github.com/hitoshi/pft/internal/middleware"
	"github.com/hitoshi/pft/internal/model"
	"github.com/hitoshi/pft/internal/view"
)

// SessionManager はセッションの読み込みと操作を行うサービス。auth.Serviceが実装する。
type SessionManager interface {
	SessionService
	LoadSession(ctx context.Context, sessionID string) (*model.Session, *model.User, error)
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Sessions SessionManager
	Accounts AccountService
	Views    *view.Renderer

	// 任意。nilの場合はそれぞれの機能を無効にする
	HealthChecker HealthChecker
	RateLimiter   *middleware.RateLimiter
	Gatherer      prometheus.Gatherer

	// 任意。nilの場合は既定値を使う
	Metrics       metrics.Recorder
	Logger        *slog.Logger
	GatePredicate middleware.GatePredicate

	// 転送ヘッダーを信頼する接続元。空なら接続元のアドレスをそのまま使う
	TrustedProxies []netip.Prefix

	AuthConfig AuthHandlerConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	TrustedProxy → Recovery → SecurityHeaders → Flash → Session → Logging → ConfirmationGate
//
// /auth配下ではさらに RateLimit → CSRF を適用し、
// ログインが必要なルートには RequireLogin を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	predicate := deps.GatePredicate
	if predicate == nil {
		predicate = middleware.DefaultGatePredicate
	}

	authHandler := NewAuthHandler(deps.Sessions, deps.Accounts, deps.Views, recorder, deps.AuthConfig)
	homeHandler := NewHomeHandler(deps.Views, deps.HealthChecker)

	r := chi.NewRouter()

	r.Use(middleware.NewTrustedProxyMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(flash.Middleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewSessionMiddleware(deps.Sessions))
	r.Use(middleware.NewLoggingMiddleware(logger, recorder))
	// 確認ゲートはルーター全体に一度だけ登録する
	r.Use(middleware.NewConfirmationGate(predicate, middleware.RouteNamespaceResolver(r)))

	r.Get("/", homeHandler.Home)
	r.Get("/health", homeHandler.Health)
	r.Handle("/static/*", view.StaticHandler())
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{
			CookieSecure: deps.AuthConfig.CookieSecure,
			CookieDomain: deps.AuthConfig.CookieDomain,
		}))

		r.Get("/unconfirmed", authHandler.Unconfirmed)
		r.Get("/logout", authHandler.Logout)
		r.Get("/login", authHandler.Login)
		r.Post("/login", authHandler.Login)
		r.Get("/register", authHandler.Register)
		r.Post("/register", authHandler.Register)
		r.Get("/reset", authHandler.PasswordResetRequest)
		r.Post("/reset", authHandler.PasswordResetRequest)
		r.Get("/reset/{token}", authHandler.PasswordReset)
		r.Post("/reset/{token}", authHandler.PasswordReset)

		// ログインが必要なルート
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireLogin)

			r.Get("/confirm", authHandler.ResendConfirmation)
			r.Get("/confirm/{token}", authHandler.Confirm)
			r.Get("/change-password", authHandler.ChangePassword)
			r.Post("/change-password", authHandler.ChangePassword)
			r.Get("/change_email", authHandler.ChangeEmailRequest)
			r.Post("/change_email", authHandler.ChangeEmailRequest)
			r.Get("/change_email/{token}", authHandler.ChangeEmail)
			r.Get("/delete_user", authHandler.DeleteUser)
			r.Post("/delete_user", authHandler.DeleteUser)
		})
	})

	return r
}
