package notifier

import (
	"bytes"
	"embed"
	"strings"
	"text/template"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds the parsed mail templates. Each message kind exists as a
// named template in both the plain and the HTML set.
type Templates struct {
	html  *template.Template
	plain *template.Template
}

// LoadTemplates loads the embedded mail templates.
func LoadTemplates() (*Templates, error) {
	funcs := template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	htmlTmpl, err := template.New("mail.html.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/mail.html.tmpl")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("mail.txt.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/mail.txt.tmpl")
	if err != nil {
		return nil, err
	}

	return &Templates{
		html:  htmlTmpl,
		plain: plainTmpl,
	}, nil
}

// Render renders the named message kind in both formats.
func (t *Templates) Render(kind string, data any) (plain, html string, err error) {
	var buf bytes.Buffer
	if err := t.plain.ExecuteTemplate(&buf, kind, data); err != nil {
		return "", "", err
	}
	plain = buf.String()

	buf.Reset()
	if err := t.html.ExecuteTemplate(&buf, kind, data); err != nil {
		return "", "", err
	}
	return plain, buf.String(), nil
}
