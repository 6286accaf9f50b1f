package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttpl "text/template"

	"berrymix-auth/internal/domain"
)

type templateVars struct {
	Name string
	Link string
}

type mailTemplate struct {
	subject string
	text    *texttpl.Template
	html    *template.Template
}

// Los datos del usuario sólo entran al HTML a través de html/template.
var mailTemplates = map[domain.TokenPurpose]mailTemplate{
	domain.PurposeEmailVerification: {
		subject: "Verificá tu email",
		text: texttpl.Must(texttpl.New("verify_txt").Parse(
			"Hola{{if .Name}} {{.Name}}{{end}},\n\nConfirmá tu cuenta abriendo este enlace:\n{{.Link}}\n")),
		html: template.Must(template.New("verify_html").Parse(
			`<p>Hola{{if .Name}} {{.Name}}{{end}},</p><p><a href="{{.Link}}">Verificar email</a></p>`)),
	},
	domain.PurposePasswordReset: {
		subject: "Restablecé tu contraseña",
		text: texttpl.Must(texttpl.New("reset_txt").Parse(
			"Hola{{if .Name}} {{.Name}}{{end}},\n\nPara elegir una nueva contraseña abrí este enlace:\n{{.Link}}\n\nSi no lo pediste, ignorá este correo.\n")),
		html: template.Must(template.New("reset_html").Parse(
			`<p>Hola{{if .Name}} {{.Name}}{{end}},</p><p><a href="{{.Link}}">Restablecer contraseña</a></p><p>Si no lo pediste, ignorá este correo.</p>`)),
	},
}

func renderContent(name, link string, purpose domain.TokenPurpose) (subject, text, html string, err error) {
	tpl, ok := mailTemplates[purpose]
	if !ok {
		return "", "", "", fmt.Errorf("unknown email purpose %q", purpose)
	}
	vars := templateVars{Name: strings.TrimSpace(name), Link: link}

	var textBuf, htmlBuf bytes.Buffer
	if err := tpl.text.Execute(&textBuf, vars); err != nil {
		return "", "", "", err
	}
	if err := tpl.html.Execute(&htmlBuf, vars); err != nil {
		return "", "", "", err
	}
	return tpl.subject, textBuf.String(), htmlBuf.String(), nil
}
