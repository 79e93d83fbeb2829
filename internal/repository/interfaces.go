// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/pft/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスの完全一致でユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithGroup はユーザー、個人グループ（既定のカテゴリ・口座を含む）、
	// メンバーシップを同一トランザクションで作成する。
	// メールアドレスが重複している場合はErrDuplicateEmailを返し、何も永続化しない。
	CreateWithGroup(ctx context.Context, user *model.User, group *model.Group, membership *model.Membership) error

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// ResetPassword はパスワードハッシュを更新し、当該ユーザーの全セッションを
	// 同一トランザクションで削除する。どちらかが失敗した場合は何も変更しない。
	ResetPassword(ctx context.Context, id, passwordHash string) error

	// UpdateEmail はメールアドレスを更新する。
	// 他のユーザーが使用中の場合はErrDuplicateEmailを返す。
	UpdateEmail(ctx context.Context, id, email string) error

	// MarkConfirmed はユーザーを確認済みにする。
	// 未確認から確認済みに遷移した場合のみtrueを返す。
	MarkConfirmed(ctx context.Context, id string) (bool, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// memberships、sessionsはCASCADE削除され、当該ユーザーのみが所属する
	// グループもカテゴリ・口座ごと同一トランザクションで削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// UpdateData はセッションデータを上書きする。
	UpdateData(ctx context.Context, id string, data map[string]string) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
