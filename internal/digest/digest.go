// Package digest renders a run's qualified opportunities into an email
// payload and delivers it over SMTP.
package digest

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/ceradon/sam-digest/internal/pipeline"
)

// Payload is the rendered digest handed to the delivery side.
type Payload struct {
	Subject string
	Body    string
}

const bodyTemplate = `SAM.gov Opportunity Digest
{{if not .Items}}
No opportunities met the digest threshold.
{{- else}}
{{- range $i, $item := .Items}}
{{add $i 1}}. {{$item.Title}}
   Agency: {{$item.Agency}}
   Notice Type: {{$item.NoticeType}}
   NAICS: {{$item.NAICSCode}}
   Set-Aside: {{orDash $item.SetAside}}
   Posted: {{date $item.PostedDate}}
   Deadline: {{deadline $item.ResponseDeadline}}
   Score: {{printf "%g" $item.Result.Score}}
   Link: {{$item.Link}}
{{- end}}
{{- end}}
`

var tmpl = template.Must(template.New("digest").Funcs(template.FuncMap{
	"add":    func(a, b int) int { return a + b },
	"orDash": func(s string) string { return orDash(s) },
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02")
	},
	"deadline": func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format("2006-01-02")
	},
}).Parse(bodyTemplate))

// Build renders the ranked entries into a complete payload. An empty input
// still yields a valid "nothing new" digest; whether that gets sent is the
// caller's call.
func Build(entries []pipeline.Entry) Payload {
	var body strings.Builder
	if err := tmpl.Execute(&body, struct{ Items []pipeline.Entry }{Items: entries}); err != nil {
		// The template is static and the data plain; failure here means a
		// programming error, so fall back to something still deliverable.
		return Payload{
			Subject: fmt.Sprintf("SAM opportunity digest (%d items)", len(entries)),
			Body:    "digest rendering failed: " + err.Error(),
		}
	}

	return Payload{
		Subject: fmt.Sprintf("SAM opportunity digest (%d items)", len(entries)),
		Body:    body.String(),
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
