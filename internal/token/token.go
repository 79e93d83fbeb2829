// Package token は確認・パスワード再設定・メールアドレス変更に使う
// 署名付き・期限付きトークンを発行、検証する。
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose はトークンの用途。用途の異なるトークンは互いに流用できない。
type Purpose string

const (
	PurposeConfirm     Purpose = "confirm"
	PurposeReset       Purpose = "reset"
	PurposeChangeEmail Purpose = "change_email"
)

var (
	// ErrInvalid は形式不正、署名不一致、用途違いのトークン。
	ErrInvalid = errors.New("token is invalid")
	// ErrExpired は有効期限切れのトークン。
	ErrExpired = errors.New("token has expired")
	// ErrMismatched は検証対象と異なるユーザー、またはパスワード変更済みのトークン。
	ErrMismatched = errors.New("token does not belong to this user")
)

// Claims はトークンに含まれるクレーム。
type Claims struct {
	Purpose     Purpose `json:"purpose"`
	NewEmail    string  `json:"new_email,omitempty"`
	Fingerprint string  `json:"pwd,omitempty"`
	jwt.RegisteredClaims
}

// Option はトークン発行時の追加クレームを設定する。
type Option func(*Claims)

// WithNewEmail は変更先メールアドレスをトークンに含める。
func WithNewEmail(email string) Option {
	return func(c *Claims) { c.NewEmail = email }
}

// WithFingerprint はパスワードハッシュの指紋をトークンに含める。
// パスワードが変わるとトークンは使えなくなる。
func WithFingerprint(fp string) Option {
	return func(c *Claims) { c.Fingerprint = fp }
}

// Manager はHS256でトークンを署名・検証する。
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(secret []byte, ttl time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	return &Manager{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Generate はsubject（ユーザーID）宛てのトークンを発行する。
func (m *Manager) Generate(purpose Purpose, subject string, opts ...Option) (string, error) {
	now := m.now()
	claims := &Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	for _, opt := range opts {
		opt(claims)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", purpose, err)
	}
	return signed, nil
}

// Parse はトークンを検証してクレームを返す。
// 宛先ユーザーはトークン自身から決まるため、パスワード再設定のように
// 事前にユーザーが分からない場面で使う。
func (m *Manager) Parse(tokenStr string, purpose Purpose) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Verify はトークンを検証し、subject宛てに発行されたものであることを確認する。
func (m *Manager) Verify(tokenStr string, purpose Purpose, subject string) (*Claims, error) {
	claims, err := m.Parse(tokenStr, purpose)
	if err != nil {
		return nil, err
	}
	if claims.Subject != subject {
		return nil, ErrMismatched
	}
	return claims, nil
}

// Fingerprint はパスワードハッシュから指紋を算出する。
func (m *Manager) Fingerprint(passwordHash string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(passwordHash))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// CheckFingerprint はクレームの指紋が現在のパスワードハッシュと一致するか検証する。
func (m *Manager) CheckFingerprint(claims *Claims, passwordHash string) error {
	if !hmac.Equal([]byte(claims.Fingerprint), []byte(m.Fingerprint(passwordHash))) {
		return ErrMismatched
	}
	return nil
}
