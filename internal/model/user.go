// Package model はドメインモデルを定義する。
package model

import "time"

// User は家計簿アプリの利用ユーザーを表す。
// Confirmed はfalseからtrueへのみ遷移する。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Confirmed    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionKeyLoginTime はログイン画面表示時刻を保持するセッションデータのキー。
const SessionKeyLoginTime = "login_time"

// Session はブラウザセッションを表す。
// UserIDが空のセッションは未ログイン（匿名）セッション。
type Session struct {
	ID        string
	UserID    string
	Data      map[string]string
	Remember  bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsAnonymous はユーザーに紐付いていないセッションかどうかを返す。
func (s *Session) IsAnonymous() bool {
	return s.UserID == ""
}

// LoginTime はセッションに記録されたlogin_timeを返す。
// 未記録または解析できない場合はfalseを返す。
func (s *Session) LoginTime() (time.Time, bool) {
	raw, ok := s.Data[SessionKeyLoginTime]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetLoginTime はlogin_timeをUTCのRFC3339形式で記録する。
func (s *Session) SetLoginTime(t time.Time) {
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[SessionKeyLoginTime] = t.UTC().Format(time.RFC3339)
}
