// Package auth はパスワード認証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pft/internal/model"
	"github.com/hitoshi/pft/internal/repository"
)

// ErrInvalidCredentials はメールアドレスまたはパスワードの誤り。
// どちらが誤っているかは区別しない。
var ErrInvalidCredentials = errors.New("invalid email or password")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge  int // セッション有効期間（秒）
	RememberMaxAge int // 「ログインしたままにする」指定時の有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		config:      config,
		now:         time.Now,
	}
}

// Authenticate はメールアドレス（完全一致）とパスワードでユーザーを認証する。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !s.hasher.Verify(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// MaxAge はセッションの有効期間（秒）を返す。
func (s *Service) MaxAge(remember bool) int {
	if remember {
		return s.config.RememberMaxAge
	}
	return s.config.SessionMaxAge
}

// NewSession は未保存の匿名セッションを生成する。
// セッションデータを書き込むまでは永続化しない。
func (s *Service) NewSession() (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	now := s.now()
	return &model.Session{
		ID:        sessionID,
		Data:      make(map[string]string),
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}, nil
}

// LoadSession はセッションIDからセッションとユーザーを取得する。
// セッションが存在しない場合は両方nil、匿名セッションまたは
// ユーザーが削除済みの場合はユーザーのみnilを返す。
func (s *Service) LoadSession(ctx context.Context, sessionID string) (*model.Session, *model.User, error) {
	if sessionID == "" {
		return nil, nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil, nil
	}
	if session.IsAnonymous() {
		return session, nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	return session, user, nil
}

// SaveSession はセッションデータを保存する。未保存のセッションは新規作成する。
func (s *Service) SaveSession(ctx context.Context, session *model.Session) error {
	existing, err := s.sessionRepo.FindByID(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if existing == nil {
		if err := s.sessionRepo.Create(ctx, session); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	}
	if err := s.sessionRepo.UpdateData(ctx, session.ID, session.Data); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// StartSession はユーザーの認証済みセッションを発行する。
// セッション固定攻撃を防ぐため、現在のセッションは破棄してIDを振り直し、
// セッションデータのみ引き継ぐ。
func (s *Service) StartSession(ctx context.Context, current *model.Session, userID string, remember bool) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		Data:      make(map[string]string),
		Remember:  remember,
		ExpiresAt: now.Add(time.Duration(s.MaxAge(remember)) * time.Second),
		CreatedAt: now,
	}
	if current != nil {
		for k, v := range current.Data {
			session.Data[k] = v
		}
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if current != nil {
		if err := s.sessionRepo.DeleteByID(ctx, current.ID); err != nil {
			return nil, fmt.Errorf("failed to delete previous session: %w", err)
		}
	}

	slog.Info("user logged in",
		slog.String("user_id", userID),
		slog.Bool("remember", remember),
	)
	return session, nil
}

// EndSession はセッションを破棄する。
func (s *Service) EndSession(ctx context.Context, session *model.Session) error {
	if session == nil || session.ID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if !session.IsAnonymous() {
		slog.Info("user logged out", slog.String("user_id", session.UserID))
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
