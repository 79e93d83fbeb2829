// Package user はユーザー登録とアカウント管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pft/internal/auth"
	"github.com/hitoshi/pft/internal/mail"
	"github.com/hitoshi/pft/internal/metrics"
	"github.com/hitoshi/pft/internal/model"
	"github.com/hitoshi/pft/internal/repository"
	"github.com/hitoshi/pft/internal/token"
)

var (
	// ErrInvalidPassword は本人確認のためのパスワードが一致しない。
	ErrInvalidPassword = errors.New("invalid password")
	// ErrEmailTaken はメールアドレスが既に登録済み。
	ErrEmailTaken = errors.New("email already registered")
	// ErrMailNotQueued はメールを送信キューに積めなかった。
	ErrMailNotQueued = errors.New("mail not queued")
)

// メール件名。
const (
	SubjectConfirm       = "Confirm Your Account"
	SubjectResetPassword = "Reset Your Password"
	SubjectChangeEmail   = "Confirm your email address"
)

// Notifier はメールを送信キューに積む。送信の成否は待たない。
type Notifier interface {
	Enqueue(msg mail.Message) bool
}

// Service はユーザー管理のサービス層。
// 操作対象のユーザーは呼び出し側が解決して明示的に渡す。
type Service struct {
	userRepo repository.UserRepository
	hasher   auth.PasswordHasher
	tokens   *token.Manager
	notifier Notifier
	metrics  metrics.Recorder
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	hasher auth.PasswordHasher,
	tokens *token.Manager,
	notifier Notifier,
	recorder metrics.Recorder,
) *Service {
	return &Service{
		userRepo: userRepo,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		metrics:  recorder,
		now:      time.Now,
	}
}

// Register はユーザーを未確認状態で登録し、確認メールを送信する。
// ユーザー、個人グループ（既定のカテゴリ・口座つき）、有効なメンバーシップは
// 1つのトランザクションで作成される。
// 登録後に確認メールを送れなくてもエラーにはしない。利用者は確認画面から再送できる。
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	u := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	group := &model.Group{
		ID:        uuid.New().String(),
		Name:      model.PersonalGroupName(email),
		CreatedAt: now,
	}
	group.AddCategoriesAccounts()
	membership := &model.Membership{
		ID:      uuid.New().String(),
		UserID:  u.ID,
		GroupID: group.ID,
		Active:  true,
	}

	if err := s.userRepo.CreateWithGroup(ctx, u, group, membership); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("ユーザーの登録に失敗しました: %w", err)
	}

	s.metrics.RecordRegistration()
	slog.Info("user registered",
		slog.String("user_id", u.ID),
		slog.String("group_id", group.ID),
	)

	if err := s.sendConfirmation(u); err != nil {
		slog.Error("failed to send confirmation after registration",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
	return u, nil
}

// ResendConfirmation は確認メールを再送する。
func (s *Service) ResendConfirmation(_ context.Context, u *model.User) error {
	return s.sendConfirmation(u)
}

func (s *Service) sendConfirmation(u *model.User) error {
	tok, err := s.tokens.Generate(token.PurposeConfirm, u.ID)
	if err != nil {
		return err
	}
	queued := s.notifier.Enqueue(mail.Message{
		To:       u.Email,
		Subject:  SubjectConfirm,
		Template: mail.TemplateConfirm,
		Data:     map[string]any{"Email": u.Email, "Token": tok},
	})
	if !queued {
		return ErrMailNotQueued
	}
	return nil
}

// Confirm は確認トークンを検証し、ユーザーを確認済みにする。
// 検証に失敗した場合は何も永続化せず、token.ErrInvalid / ErrExpired / ErrMismatched を返す。
func (s *Service) Confirm(ctx context.Context, u *model.User, tok string) error {
	if _, err := s.tokens.Verify(tok, token.PurposeConfirm, u.ID); err != nil {
		s.recordToken(token.PurposeConfirm, err)
		return err
	}

	if _, err := s.userRepo.MarkConfirmed(ctx, u.ID); err != nil {
		return fmt.Errorf("アカウントの確認に失敗しました: %w", err)
	}
	u.Confirmed = true
	s.recordToken(token.PurposeConfirm, nil)
	slog.Info("account confirmed", slog.String("user_id", u.ID))
	return nil
}

// ChangePassword は現在のパスワードを確認してから新しいパスワードに変更する。
// 現在のパスワードが一致しない場合はErrInvalidPasswordを返し、ハッシュは変更しない。
func (s *Service) ChangePassword(ctx context.Context, u *model.User, oldPassword, newPassword string) error {
	if !s.hasher.Verify(u.PasswordHash, oldPassword) {
		return ErrInvalidPassword
	}
	return s.setPassword(ctx, u, newPassword)
}

func (s *Service) setPassword(ctx context.Context, u *model.User, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePassword(ctx, u.ID, hash); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}
	u.PasswordHash = hash
	slog.Info("password updated", slog.String("user_id", u.ID))
	return nil
}

// RequestPasswordReset はパスワード再設定メールを送信する。
// 未登録のメールアドレスでもエラーにせず、呼び出し側からは区別できない。
// nextは再設定後のリダイレクト先としてメール内リンクに引き継ぐ。
func (s *Service) RequestPasswordReset(ctx context.Context, email, next string) error {
	u, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		slog.Debug("password reset requested for unknown email")
		return nil
	}

	tok, err := s.tokens.Generate(token.PurposeReset, u.ID,
		token.WithFingerprint(s.tokens.Fingerprint(u.PasswordHash)))
	if err != nil {
		return err
	}
	s.notifier.Enqueue(mail.Message{
		To:       u.Email,
		Subject:  SubjectResetPassword,
		Template: mail.TemplateResetPassword,
		Data:     map[string]any{"Email": u.Email, "Token": tok, "Next": next},
	})
	return nil
}

// ResetPassword は再設定トークンの宛先ユーザーのパスワードを変更する。
// トークンは発行時のパスワードハッシュに紐付いており、一度使うと無効になる。
// 変更後は当該ユーザーの既存セッションをすべて破棄する。
func (s *Service) ResetPassword(ctx context.Context, tok, newPassword string) error {
	claims, err := s.tokens.Parse(tok, token.PurposeReset)
	if err != nil {
		s.recordToken(token.PurposeReset, err)
		return err
	}

	u, err := s.userRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		s.recordToken(token.PurposeReset, token.ErrMismatched)
		return token.ErrMismatched
	}
	if err := s.tokens.CheckFingerprint(claims, u.PasswordHash); err != nil {
		s.recordToken(token.PurposeReset, err)
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	// パスワード更新と全セッションの失効は同時に成功するか、どちらも起きない
	if err := s.userRepo.ResetPassword(ctx, u.ID, hash); err != nil {
		return fmt.Errorf("パスワードの再設定に失敗しました: %w", err)
	}
	s.recordToken(token.PurposeReset, nil)
	slog.Info("password reset", slog.String("user_id", u.ID))
	return nil
}

// RequestEmailChange はパスワードを確認し、新しいメールアドレス宛てに確認メールを送信する。
func (s *Service) RequestEmailChange(ctx context.Context, u *model.User, newEmail, password string) error {
	if !s.hasher.Verify(u.PasswordHash, password) {
		return ErrInvalidPassword
	}

	existing, err := s.userRepo.FindByEmail(ctx, newEmail)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return ErrEmailTaken
	}

	tok, err := s.tokens.Generate(token.PurposeChangeEmail, u.ID, token.WithNewEmail(newEmail))
	if err != nil {
		return err
	}
	s.notifier.Enqueue(mail.Message{
		To:       newEmail,
		Subject:  SubjectChangeEmail,
		Template: mail.TemplateChangeEmail,
		Data:     map[string]any{"Email": u.Email, "Token": tok},
	})
	return nil
}

// ChangeEmail はメールアドレス変更トークンを検証し、メールアドレスを更新する。
func (s *Service) ChangeEmail(ctx context.Context, u *model.User, tok string) error {
	claims, err := s.tokens.Verify(tok, token.PurposeChangeEmail, u.ID)
	if err != nil {
		s.recordToken(token.PurposeChangeEmail, err)
		return err
	}
	if claims.NewEmail == "" {
		s.recordToken(token.PurposeChangeEmail, token.ErrInvalid)
		return token.ErrInvalid
	}

	if err := s.userRepo.UpdateEmail(ctx, u.ID, claims.NewEmail); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return ErrEmailTaken
		}
		return fmt.Errorf("メールアドレスの更新に失敗しました: %w", err)
	}
	u.Email = claims.NewEmail
	s.recordToken(token.PurposeChangeEmail, nil)
	slog.Info("email updated", slog.String("user_id", u.ID))
	return nil
}

// DeleteAccount はユーザーと所有データを削除する。
// memberships、sessionsはCASCADE、個人グループはリポジトリが同一トランザクションで削除する。
func (s *Service) DeleteAccount(ctx context.Context, u *model.User) error {
	if err := s.userRepo.DeleteByID(ctx, u.ID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}
	slog.Info("account deleted", slog.String("user_id", u.ID))
	return nil
}

func (s *Service) recordToken(purpose token.Purpose, err error) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, token.ErrExpired):
		outcome = metrics.OutcomeExpired
	case errors.Is(err, token.ErrMismatched):
		outcome = metrics.OutcomeMismatch
	default:
		outcome = metrics.OutcomeInvalid
	}
	s.metrics.RecordToken(string(purpose), outcome)
}
