package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hitoshi/pft/internal/flash"
	"github.com/hitoshi/pft/internal/model"
)

// --- モック定義 ---

type mockSessionLoader struct {
	loadSessionFn func(ctx context.Context, id string) (*model.Session, *model.User, error)
}

func (m *mockSessionLoader) LoadSession(ctx context.Context, id string) (*model.Session, *model.User, error) {
	if m.loadSessionFn != nil {
		return m.loadSessionFn(ctx, id)
	}
	return nil, nil, nil
}

func authenticatedLoader(user *model.User) *mockSessionLoader {
	return &mockSessionLoader{
		loadSessionFn: func(ctx context.Context, id string) (*model.Session, *model.User, error) {
			if id != "valid-session-id" {
				return nil, nil, nil
			}
			return &model.Session{
				ID:        id,
				UserID:    user.ID,
				ExpiresAt: time.Now().Add(time.Hour),
			}, user, nil
		},
	}
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsIdentity(t *testing.T) {
	user := &model.User{ID: "user-123", Email: "a@example.com", Confirmed: true}
	mw := NewSessionMiddleware(authenticatedLoader(user))

	var captured *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !captured.Authenticated() {
		t.Fatal("expected authenticated identity")
	}
	if captured.User.ID != "user-123" {
		t.Errorf("user ID = %q, want %q", captured.User.ID, "user-123")
	}
	if captured.Session == nil || captured.Session.ID != "valid-session-id" {
		t.Errorf("session = %+v, want valid-session-id", captured.Session)
	}
}

func TestSessionMiddleware_NoCookie_PassesAsAnonymous(t *testing.T) {
	called := false
	mw := NewSessionMiddleware(&mockSessionLoader{
		loadSessionFn: func(ctx context.Context, id string) (*model.Session, *model.User, error) {
			called = true
			return nil, nil, nil
		},
	})

	var captured *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if called {
		t.Error("loader should not be called without a cookie")
	}
	if captured.Authenticated() || captured.Session != nil {
		t.Errorf("identity = %+v, want anonymous without session", captured)
	}
}

func TestSessionMiddleware_UnknownSession_PassesAsAnonymous(t *testing.T) {
	mw := NewSessionMiddleware(authenticatedLoader(&model.User{ID: "user-123"}))

	var captured *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "expired-or-unknown"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured.Authenticated() {
		t.Error("unknown session should be anonymous")
	}
}

func TestSessionMiddleware_AnonymousSession_KeepsSession(t *testing.T) {
	mw := NewSessionMiddleware(&mockSessionLoader{
		loadSessionFn: func(ctx context.Context, id string) (*model.Session, *model.User, error) {
			return &model.Session{ID: id, Data: map[string]string{"k": "v"}}, nil, nil
		},
	})

	var captured *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "anon"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured.Authenticated() {
		t.Error("anonymous session should not be authenticated")
	}
	if captured.Session == nil || captured.Session.ID != "anon" {
		t.Errorf("session = %+v, want anon", captured.Session)
	}
}

func TestSessionMiddleware_DeletedUser_DropsSession(t *testing.T) {
	mw := NewSessionMiddleware(&mockSessionLoader{
		loadSessionFn: func(ctx context.Context, id string) (*model.Session, *model.User, error) {
			return &model.Session{ID: id, UserID: "gone"}, nil, nil
		},
	})

	var captured *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "stale"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured.Authenticated() || captured.Session != nil {
		t.Errorf("identity = %+v, want empty", captured)
	}
}

func TestSessionMiddleware_LoaderError_Returns500(t *testing.T) {
	mw := NewSessionMiddleware(&mockSessionLoader{
		loadSessionFn: func(ctx context.Context, id string) (*model.Session, *model.User, error) {
			return nil, nil, errors.New("database connection failed")
		},
	})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "some-session"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestRequireLogin_Anonymous_RedirectsToLoginWithNext(t *testing.T) {
	handler := flash.Middleware(false)(RequireLogin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})))

	req := httptest.NewRequest(http.MethodGet, "/auth/change-password?x=1", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	if loc.Path != LoginPath {
		t.Errorf("redirect path = %q, want %q", loc.Path, LoginPath)
	}
	if next := loc.Query().Get("next"); next != "/auth/change-password?x=1" {
		t.Errorf("next = %q, want %q", next, "/auth/change-password?x=1")
	}

	var flashCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == flash.CookieName {
			flashCookie = c
		}
	}
	if flashCookie == nil || flashCookie.Value == "" {
		t.Error("expected login-required flash cookie")
	}
}

func TestRequireLogin_Authenticated_PassesThrough(t *testing.T) {
	called := false
	handler := RequireLogin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/change-password", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), &Identity{User: &model.User{ID: "u1"}}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("handler should be called for authenticated user")
	}
}

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
}

func TestUserIDFromContext_Authenticated_ReturnsUserID(t *testing.T) {
	ctx := ContextWithIdentity(context.Background(), &Identity{User: &model.User{ID: "user-456"}})
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-456" {
		t.Errorf("userID = %q, want %q", userID, "user-456")
	}
}
