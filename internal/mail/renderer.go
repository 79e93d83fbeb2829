package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates/*.html
var templateFS embed.FS

var blankLines = regexp.MustCompile(`\n{3,}`)

// Renderer はメールテンプレートからHTML本文とテキスト本文を生成する。
type Renderer struct {
	templates *template.Template
	baseURL   *url.URL
	strip     *bluemonday.Policy
}

// NewRenderer はRendererを生成する。baseURLはメール内リンクの起点。
func NewRenderer(baseURL string) (*Renderer, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	r := &Renderer{baseURL: base, strip: bluemonday.StrictPolicy()}
	tmpl, err := template.New("mail").Funcs(template.FuncMap{
		"link": r.link,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail templates: %w", err)
	}
	r.templates = tmpl
	return r, nil
}

// link はパスとクエリ（キーと値の組）から絶対URLを組み立てる。空の値は省く。
func (r *Renderer) link(path string, pairs ...any) string {
	u := *r.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	q := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == nil {
			continue
		}
		if v := fmt.Sprint(pairs[i+1]); v != "" {
			q.Set(fmt.Sprint(pairs[i]), v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Render はメッセージのHTML本文とテキスト本文を返す。
func (r *Renderer) Render(msg Message) (htmlBody, textBody string, err error) {
	if r.templates.Lookup(msg.Template) == nil {
		return "", "", fmt.Errorf("unknown mail template %q", msg.Template)
	}

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, msg.Template, msg.Data); err != nil {
		return "", "", fmt.Errorf("failed to render mail template %q: %w", msg.Template, err)
	}
	htmlBody = buf.String()

	// タグを除去してからエンティティを戻す
	text := html.UnescapeString(r.strip.Sanitize(htmlBody))
	text = blankLines.ReplaceAllString(strings.TrimSpace(text), "\n\n")
	return htmlBody, text + "\n", nil
}
