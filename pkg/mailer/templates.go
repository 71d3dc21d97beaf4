package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var layout = template.Must(template.New("layout").Parse(`<!doctype html>
<html><body style="font-family:Arial,sans-serif;color:#1f2933">
<h2>{{.Heading}}</h2>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{if .ActionURL}}<p><a href="{{.ActionURL}}">{{.ActionLabel}}</a></p>{{end}}
</body></html>`))

// Content is the body of a templated e-mail.
type Content struct {
	Heading     string
	Paragraphs  []string
	ActionURL   string
	ActionLabel string
}

// Compose renders content into a message for the given recipient.
func Compose(to, toName, subject string, content Content, tags ...string) (Message, error) {
	var html bytes.Buffer
	if err := layout.Execute(&html, content); err != nil {
		return Message{}, fmt.Errorf("render email: %w", err)
	}

	var text strings.Builder
	text.WriteString(content.Heading)
	text.WriteString("\n\n")
	for _, p := range content.Paragraphs {
		text.WriteString(p)
		text.WriteString("\n\n")
	}
	if content.ActionURL != "" {
		text.WriteString(content.ActionLabel + ": " + content.ActionURL + "\n")
	}

	return Message{
		To:      to,
		ToName:  toName,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
		Tags:    tags,
	}, nil
}
