package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/hitoshi/donorlink/internal/middleware"
	"github.com/hitoshi/donorlink/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutTemplate = "layout.html"

// layoutData は全ページ共通の表示内容。
type layoutData struct {
	Title         string
	CSRFField     string
	CSRFToken     string
	Error         *model.APIError
	AdminUsername string
	DonorName     string
}

// newLayout はリクエストのセッションとCSRFトークンから共通の表示内容を作る。
func newLayout(r *http.Request, title string) layoutData {
	state := sessionFrom(r)
	return layoutData{
		Title:         title,
		CSRFField:     middleware.CSRFFormField,
		CSRFToken:     middleware.CSRFTokenFromContext(r.Context()),
		AdminUsername: state.AdminUsername(),
		DonorName:     state.DonorName(),
	}
}

var templateFuncs = template.FuncMap{
	"yesno": model.YesNo,
	"intval": func(p *int) string {
		if p == nil {
			return ""
		}
		return strconv.Itoa(*p)
	},
	"floatval": func(p *float64) string {
		if p == nil {
			return ""
		}
		return strconv.FormatFloat(*p, 'f', -1, 64)
	},
	"datetime": func(v any) string {
		var t time.Time
		switch tv := v.(type) {
		case time.Time:
			t = tv
		case *time.Time:
			if tv != nil {
				t = *tv
			}
		}
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04")
	},
	"contactLabel": func(kind model.ContactKind) string {
		if kind == model.ContactEmail {
			return "メールアドレス"
		}
		return "電話番号"
	},
	"contactType": func(kind model.ContactKind) string {
		if kind == model.ContactEmail {
			return "email"
		}
		return "tel"
	},
}

// Renderer は埋め込みテンプレートからHTMLページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は全ページのテンプレートを共通レイアウトと組み合わせて解析する。
func NewRenderer() (*Renderer, error) {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		base := path.Base(name)
		if base == layoutTemplate {
			continue
		}
		t, err := template.New(layoutTemplate).Funcs(templateFuncs).
			ParseFS(templateFS, "templates/"+layoutTemplate, name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", base, err)
		}
		pages[base] = t
	}
	return &Renderer{pages: pages}, nil
}

// MustNewRenderer はNewRendererの失敗時にpanicする。
func MustNewRenderer() *Renderer {
	rd, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return rd
}

// Render はページを描画してstatusCodeで書き込む。
// 描画に失敗した場合は途中までの出力を捨てて500を返す。
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, statusCode int, name string, data any) {
	t, ok := rd.pages[name]
	if !ok {
		slog.ErrorContext(r.Context(), "template not found", slog.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, layoutTemplate, data); err != nil {
		slog.ErrorContext(r.Context(), "failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	buf.WriteTo(w)
}
