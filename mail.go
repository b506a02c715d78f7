package gdexposure

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"mime"
	"strings"

	"github.com/najeira/randstr"
)

// ReportSubject is the subject line of every owner report.
const ReportSubject = "Alerte : éléments Google Drive partagés publiquement"

// FetchAlertSubject is the subject line of the operations alert sent when
// the audit log query fails.
const FetchAlertSubject = "Surveillance Drive : échec de la lecture du journal d'audit"

var reportTemplate = template.Must(template.New("report").Parse(`<html>
  <body>
    <p>Bonjour,</p>
    <p>Les éléments Google Drive suivants, dont vous êtes propriétaire, sont actuellement accessibles en dehors de l'organisation ({{len .Exposures}} élément{{if gt (len .Exposures) 1}}s{{end}}) :</p>
    <ul>
{{- range .Exposures}}
      <li>{{if .URL}}<a href="{{.URL}}">{{.TitleOrID}}</a>{{else}}{{.TitleOrID}}{{end}} : {{.Label}}</li>
{{- end}}
    </ul>
    <p>Si ce partage n'est pas intentionnel, merci de restreindre l'accès depuis les paramètres de partage de chaque élément.</p>
    <p>Pour toute question, répondez simplement à ce message.</p>
  </body>
</html>
`))

type reportLine struct {
	TitleOrID string
	URL       string
	Label     string
}

// RenderedReport is a composed owner message ready for a mail transport.
type RenderedReport struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// RenderReport composes the single consolidated message for one owner.
func RenderReport(report *OwnerReport) (*RenderedReport, error) {
	lines := Map(report.Exposures, func(e *ConfirmedExposure) *reportLine {
		title := e.Title
		if title == "" {
			title = e.DocID
		}
		return &reportLine{
			TitleOrID: title,
			URL:       e.URL,
			Label:     e.Level.Label(),
		}
	})
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, map[string]any{
		"Exposures": lines,
	}); err != nil {
		return nil, fmt.Errorf("execute report template: %w", err)
	}
	var text strings.Builder
	fmt.Fprintf(&text, "Bonjour,\n\nLes éléments Google Drive suivants, dont vous êtes propriétaire, sont actuellement accessibles en dehors de l'organisation (%d) :\n\n", len(report.Exposures))
	for _, line := range lines {
		if line.URL != "" {
			fmt.Fprintf(&text, "- %s (%s) : %s\n", line.TitleOrID, line.URL, line.Label)
		} else {
			fmt.Fprintf(&text, "- %s : %s\n", line.TitleOrID, line.Label)
		}
	}
	text.WriteString("\nSi ce partage n'est pas intentionnel, merci de restreindre l'accès depuis les paramètres de partage de chaque élément.\n")
	return &RenderedReport{
		Subject:  ReportSubject,
		HTMLBody: buf.String(),
		TextBody: text.String(),
	}, nil
}

// RenderFetchAlert composes the operations alert for a failed audit fetch.
func RenderFetchAlert(fetchErr error) *RenderedReport {
	body := fmt.Sprintf("Bonjour,\n\nLa lecture du journal d'audit Drive a échoué, aucune alerte n'a été envoyée pour cette exécution.\n\nErreur : %s\n", fetchErr.Error())
	return &RenderedReport{
		Subject:  FetchAlertSubject,
		HTMLBody: "<html><body><pre>" + template.HTMLEscapeString(body) + "</pre></body></html>",
		TextBody: body,
	}
}

type mailEnvelope struct {
	From    string
	To      string
	ReplyTo string
}

// buildMIMEMessage assembles a multipart/alternative RFC 822 message with
// a plain text part and an HTML part, both UTF-8.
func buildMIMEMessage(env mailEnvelope, senderName string, r *RenderedReport) []byte {
	boundary := randstr.String(32)
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", mime.QEncoding.Encode("UTF-8", senderName), env.From)
	fmt.Fprintf(&msg, "To: %s\r\n", env.To)
	if env.ReplyTo != "" {
		fmt.Fprintf(&msg, "Reply-To: %s\r\n", env.ReplyTo)
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", r.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	msg.WriteString("\r\n")
	writeMIMEPart(&msg, boundary, "text/plain", r.TextBody)
	writeMIMEPart(&msg, boundary, "text/html", r.HTMLBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

func writeMIMEPart(msg *bytes.Buffer, boundary, contentType, body string) {
	fmt.Fprintf(msg, "--%s\r\n", boundary)
	fmt.Fprintf(msg, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	msg.WriteString("Content-Transfer-Encoding: base64\r\n")
	msg.WriteString("\r\n")
	encoded := base64.StdEncoding.EncodeToString([]byte(body))
	for len(encoded) > 0 {
		n := min(len(encoded), 76)
		msg.WriteString(encoded[:n])
		msg.WriteString("\r\n")
		encoded = encoded[n:]
	}
}
