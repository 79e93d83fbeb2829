package model

import (
	"time"

	"github.com/google/uuid"
)

// CategoryKind はカテゴリの収支区分。
type CategoryKind string

const (
	CategoryKindIncome  CategoryKind = "income"
	CategoryKindExpense CategoryKind = "expense"
)

// 新規グループに作成される既定のカテゴリと口座。
var (
	DefaultIncomeCategories  = []string{"Salary", "Other Income"}
	DefaultExpenseCategories = []string{"Food", "Housing", "Transport", "Utilities", "Health", "Entertainment", "Other"}
	DefaultAccounts          = []string{"Cash", "Bank Account"}
)

// Group は複数ユーザーで共有される家計簿の単位。
// ユーザー登録時に個人用グループが1つ作成される。
type Group struct {
	ID         string
	Name       string
	CreatedAt  time.Time
	Categories []Category
	Accounts   []Account
}

// Category は収入・支出の分類。
type Category struct {
	ID      string
	GroupID string
	Name    string
	Kind    CategoryKind
}

// Account は資金の保管先（現金、銀行口座など）。
type Account struct {
	ID        string
	GroupID   string
	Name      string
	CreatedAt time.Time
}

// Membership はユーザーとグループの所属関係。
type Membership struct {
	ID      string
	UserID  string
	GroupID string
	Active  bool
}

// PersonalGroupName はユーザー登録時に作成する個人グループの名前を返す。
func PersonalGroupName(email string) string {
	return "Group:" + email
}

// AddCategoriesAccounts は既定のカテゴリと口座をグループに追加する。
// 永続化はリポジトリ層がグループ作成と同一トランザクションで行う。
func (g *Group) AddCategoriesAccounts() {
	now := g.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	for _, name := range DefaultIncomeCategories {
		g.Categories = append(g.Categories, Category{
			ID: uuid.New().String(), GroupID: g.ID, Name: name, Kind: CategoryKindIncome,
		})
	}
	for _, name := range DefaultExpenseCategories {
		g.Categories = append(g.Categories, Category{
			ID: uuid.New().String(), GroupID: g.ID, Name: name, Kind: CategoryKindExpense,
		})
	}
	for _, name := range DefaultAccounts {
		g.Accounts = append(g.Accounts, Account{
			ID: uuid.New().String(), GroupID: g.ID, Name: name, CreatedAt: now,
		})
	}
}
