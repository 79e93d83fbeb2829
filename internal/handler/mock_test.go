package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/pft/internal/flash"
	"github.com/hitoshi/pft/internal/model"
	"github.com/hitoshi/pft/internal/view"
)

// --- モック定義 ---

type mockSessionManager struct {
	sessions map[string]*model.Session
	users    map[string]*model.User

	authenticateFn func(ctx context.Context, email, password string) (*model.User, error)
	startSessionFn func(ctx context.Context, current *model.Session, userID string, remember bool) (*model.Session, error)
	endSessionFn   func(ctx context.Context, session *model.Session) error

	newSessionCalls int
	saved           []*model.Session
	started         int
}

func newMockSessionManager() *mockSessionManager {
	return &mockSessionManager{
		sessions: make(map[string]*model.Session),
		users:    make(map[string]*model.User),
	}
}

// login はsessionIDのCookieでuserとしてログインしている状態を作る。
func (m *mockSessionManager) login(sessionID string, u *model.User) {
	m.sessions[sessionID] = &model.Session{ID: sessionID, UserID: u.ID, Data: map[string]string{}}
	m.users[u.ID] = u
}

func (m *mockSessionManager) LoadSession(ctx context.Context, sessionID string) (*model.Session, *model.User, error) {
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil, nil
	}
	return session, m.users[session.UserID], nil
}

func (m *mockSessionManager) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockSessionManager) NewSession() (*model.Session, error) {
	m.newSessionCalls++
	return &model.Session{ID: "new-anon-session", Data: map[string]string{}}, nil
}

func (m *mockSessionManager) SaveSession(ctx context.Context, session *model.Session) error {
	m.saved = append(m.saved, session)
	return nil
}

func (m *mockSessionManager) StartSession(ctx context.Context, current *model.Session, userID string, remember bool) (*model.Session, error) {
	m.started++
	if m.startSessionFn != nil {
		return m.startSessionFn(ctx, current, userID, remember)
	}
	return &model.Session{ID: "new-user-session", UserID: userID, Remember: remember}, nil
}

func (m *mockSessionManager) EndSession(ctx context.Context, session *model.Session) error {
	if m.endSessionFn != nil {
		return m.endSessionFn(ctx, session)
	}
	return nil
}

func (m *mockSessionManager) MaxAge(remember bool) int {
	if remember {
		return 31536000
	}
	return 86400
}

type mockAccountService struct {
	registerFn             func(ctx context.Context, email, password string) (*model.User, error)
	resendConfirmationFn   func(ctx context.Context, u *model.User) error
	confirmFn              func(ctx context.Context, u *model.User, tok string) error
	changePasswordFn       func(ctx context.Context, u *model.User, oldPassword, newPassword string) error
	requestPasswordResetFn func(ctx context.Context, email, next string) error
	resetPasswordFn        func(ctx context.Context, tok, newPassword string) error
	requestEmailChangeFn   func(ctx context.Context, u *model.User, newEmail, password string) error
	changeEmailFn          func(ctx context.Context, u *model.User, tok string) error
	deleteAccountFn        func(ctx context.Context, u *model.User) error
}

func (m *mockAccountService) Register(ctx context.Context, email, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password)
	}
	return &model.User{ID: "new-user", Email: email}, nil
}

func (m *mockAccountService) ResendConfirmation(ctx context.Context, u *model.User) error {
	if m.resendConfirmationFn != nil {
		return m.resendConfirmationFn(ctx, u)
	}
	return nil
}

func (m *mockAccountService) Confirm(ctx context.Context, u *model.User, tok string) error {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, u, tok)
	}
	return nil
}

func (m *mockAccountService) ChangePassword(ctx context.Context, u *model.User, oldPassword, newPassword string) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, u, oldPassword, newPassword)
	}
	return nil
}

func (m *mockAccountService) RequestPasswordReset(ctx context.Context, email, next string) error {
	if m.requestPasswordResetFn != nil {
		return m.requestPasswordResetFn(ctx, email, next)
	}
	return nil
}

func (m *mockAccountService) ResetPassword(ctx context.Context, tok, newPassword string) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, tok, newPassword)
	}
	return nil
}

func (m *mockAccountService) RequestEmailChange(ctx context.Context, u *model.User, newEmail, password string) error {
	if m.requestEmailChangeFn != nil {
		return m.requestEmailChangeFn(ctx, u, newEmail, password)
	}
	return nil
}

func (m *mockAccountService) ChangeEmail(ctx context.Context, u *model.User, tok string) error {
	if m.changeEmailFn != nil {
		return m.changeEmailFn(ctx, u, tok)
	}
	return nil
}

func (m *mockAccountService) DeleteAccount(ctx context.Context, u *model.User) error {
	if m.deleteAccountFn != nil {
		return m.deleteAccountFn(ctx, u)
	}
	return nil
}

// --- ヘルパー ---

const testCSRFToken = "test-csrf-token"

func newTestRouter(t *testing.T, sessions *mockSessionManager, accounts *mockAccountService) http.Handler {
	t.Helper()
	views, err := view.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return NewRouter(&RouterDeps{
		Sessions: sessions,
		Accounts: accounts,
		Views:    views,
	})
}

func getRequest(target, sessionID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	}
	return req
}

// postForm はCSRFトークンを添えたフォーム送信リクエストを作る。
func postForm(target, sessionID string, form url.Values) *http.Request {
	form.Set("csrf_token", testCSRFToken)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// flashMessages は次のリクエストへ持ち越されるフラッシュメッセージを返す。
func flashMessages(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	c := findCookie(w, flash.CookieName)
	if c == nil || c.Value == "" {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		t.Fatalf("invalid flash cookie: %v", err)
	}
	var msgs []string
	if err := json.Unmarshal(payload, &msgs); err != nil {
		t.Fatalf("invalid flash payload: %v", err)
	}
	return msgs
}

func assertRedirect(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusFound, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != want {
		t.Errorf("Location = %q, want %q", loc, want)
	}
}

func assertFlash(t *testing.T, w *httptest.ResponseRecorder, want ...string) {
	t.Helper()
	got := flashMessages(t, w)
	if len(got) != len(want) {
		t.Fatalf("flash = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("flash[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
