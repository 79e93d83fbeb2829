// Package view はHTMLページの描画と静的ファイルの配信を提供する。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/hitoshi/pft/internal/model"
)

//go:embed templates
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// ページ名。
const (
	PageHome           = "home"
	PageUnconfirmed    = "auth/unconfirmed"
	PageLogin          = "auth/login"
	PageRegister       = "auth/register"
	PageChangePassword = "auth/change_password"
	PageResetPassword  = "auth/reset_password"
	PageChangeEmail    = "auth/change_email"
	PageDeleteUser     = "auth/delete_user"
)

var pages = []string{
	PageHome,
	PageUnconfirmed,
	PageLogin,
	PageRegister,
	PageChangePassword,
	PageResetPassword,
	PageChangeEmail,
	PageDeleteUser,
}

// Data はテンプレートに渡す値。
type Data struct {
	Title     string
	User      *model.User
	Flashes   []string
	CSRFToken string
	Form      any
	Values    map[string]any
}

// Renderer はページごとにレイアウトと組み合わせたテンプレートを保持する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は埋め込みテンプレートを読み込んでRendererを生成する。
func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template, len(pages))}
	for _, page := range pages {
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse page %q: %w", page, err)
		}
		r.pages[page] = tmpl
	}
	return r, nil
}

// Render はページを描画する。描画に失敗した場合は何も書き込まずにエラーを返す。
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data Data) error {
	tmpl, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return fmt.Errorf("failed to render page %q: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// StaticHandler は/static/配下の埋め込みファイルを配信するハンドラーを返す。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
