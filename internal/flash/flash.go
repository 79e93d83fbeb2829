// Package flash はリダイレクトをまたいで一度だけ表示する通知メッセージを提供する。
package flash

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
)

// CookieName は未表示のメッセージを保持するクッキー名。
const CookieName = "pft_flash"

type contextKey struct{}

// Store はリクエスト単位のメッセージ置き場。
// 前のレスポンスから引き継いだメッセージと、このリクエストで追加したメッセージを持つ。
type Store struct {
	mu        sync.Mutex
	incoming  []string
	added     []string
	consumed  bool
	hadCookie bool
}

// FromContext はコンテキストのStoreを返す。ミドルウェア外ではnil。
func FromContext(ctx context.Context) *Store {
	s, _ := ctx.Value(contextKey{}).(*Store)
	return s
}

// Add はメッセージを追加する。
func Add(ctx context.Context, msg string) {
	s := FromContext(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, msg)
}

// Consume は表示すべきメッセージを取り出す。取り出したメッセージは次のレスポンスに残らない。
func Consume(ctx context.Context) []string {
	s := FromContext(ctx)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []string
	if !s.consumed {
		msgs = append(msgs, s.incoming...)
		s.consumed = true
	}
	msgs = append(msgs, s.added...)
	s.added = nil
	return msgs
}

// Restore はConsumeで取り出したメッセージを未表示に戻す。
// 描画に失敗したときに呼ぶと、メッセージは次のレスポンスへ持ち越される。
func Restore(ctx context.Context, msgs []string) {
	s := FromContext(ctx)
	if s == nil || len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(append([]string(nil), msgs...), s.added...)
}

// pending は次のレスポンスに持ち越すメッセージを返す。
func (s *Store) pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []string
	if !s.consumed {
		msgs = append(msgs, s.incoming...)
	}
	return append(msgs, s.added...)
}

// Middleware はクッキーからメッセージを読み込み、レスポンスヘッダー送出直前に
// 未表示のメッセージをクッキーへ書き戻す。
func Middleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store := &Store{}
			if cookie, err := r.Cookie(CookieName); err == nil {
				store.hadCookie = true
				store.incoming = decode(cookie.Value)
			}

			fw := &flashWriter{ResponseWriter: w, store: store, secure: secure}
			ctx := context.WithValue(r.Context(), contextKey{}, store)
			next.ServeHTTP(fw, r.WithContext(ctx))
			fw.persist()
		})
	}
}

// flashWriter はヘッダー送出前にフラッシュクッキーを設定するResponseWriter。
type flashWriter struct {
	http.ResponseWriter
	store   *Store
	secure  bool
	written bool
}

func (w *flashWriter) WriteHeader(code int) {
	w.persist()
	w.ResponseWriter.WriteHeader(code)
}

func (w *flashWriter) Write(b []byte) (int, error) {
	w.persist()
	return w.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerから元のResponseWriterを参照できるようにする。
func (w *flashWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *flashWriter) persist() {
	if w.written {
		return
	}
	w.written = true

	msgs := w.store.pending()
	switch {
	case len(msgs) > 0:
		http.SetCookie(w.ResponseWriter, &http.Cookie{
			Name:     CookieName,
			Value:    encode(msgs),
			Path:     "/",
			HttpOnly: true,
			Secure:   w.secure,
			SameSite: http.SameSiteLaxMode,
		})
	case w.store.hadCookie:
		http.SetCookie(w.ResponseWriter, &http.Cookie{
			Name:     CookieName,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   w.secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
}

func encode(msgs []string) string {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(payload)
}

func decode(raw string) []string {
	payload, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var msgs []string
	if err := json.Unmarshal(payload, &msgs); err != nil {
		return nil
	}
	return msgs
}
