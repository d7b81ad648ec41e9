package email

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/artpar/billgate/domain/renewal"
)

// noticeTemplate pairs a subject line with a plain-text body template.
type noticeTemplate struct {
	subject string
	body    string
}

var noticeTemplates = map[string]noticeTemplate{
	string(renewal.NoticeStandard): {
		subject: "Payment failed for your {{.AppName}} subscription",
		body: `Hello,

We could not collect payment for your {{.AppName}} subscription{{if .PackageName}} ({{.PackageName}}){{end}}.

Your subscription remains usable during a grace period ending on {{.GraceEndsAt}}.
We will retry the charge automatically. To avoid interruption, please make sure
your payment method is up to date.

{{.AppName}}`,
	},
	string(renewal.NoticeUrgent): {
		subject: "Urgent: your {{.AppName}} subscription payment is still failing",
		body: `Hello,

We have tried several times to collect payment for your {{.AppName}}
subscription{{if .PackageName}} ({{.PackageName}}){{end}} without success.

Your grace period ends on {{.GraceEndsAt}}. If payment keeps failing your
subscription will be cancelled. Please update your payment method now.

{{.AppName}}`,
	},
	string(renewal.NoticeFinal): {
		subject: "Your {{.AppName}} subscription has been cancelled",
		body: `Hello,

Your {{.AppName}} subscription{{if .PackageName}} ({{.PackageName}}){{end}} has been
cancelled because we were unable to collect payment after repeated attempts.

You can purchase a new package at any time to restore access.

{{.AppName}}`,
	},
	string(renewal.NoticeReminder): {
		subject: "Your {{.AppName}} subscription renews soon",
		body: `Hello,

Your {{.AppName}} subscription{{if .PackageName}} ({{.PackageName}}){{end}} is due to
renew on {{.EndAt}}.

{{if .AutoRenew}}No action is needed. We will charge your saved payment method automatically.{{else}}Auto-renewal is off for this subscription. To keep access, renew before the end date.{{end}}

{{.AppName}}`,
	},
}

// renderNotice renders the named notice with the given variables.
// AppName is always available to templates in addition to the caller's vars.
func renderNotice(appName, notice string, vars map[string]string) (subject, body string, err error) {
	nt, ok := noticeTemplates[notice]
	if !ok {
		return "", "", fmt.Errorf("unknown notice: %s", notice)
	}

	data := map[string]string{"AppName": appName}
	for k, v := range vars {
		data[k] = v
	}

	subject, err = renderTemplate("subject", nt.subject, data)
	if err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", notice, err)
	}
	body, err = renderTemplate("body", nt.body, data)
	if err != nil {
		return "", "", fmt.Errorf("render %s body: %w", notice, err)
	}
	return subject, body, nil
}

func renderTemplate(name, text string, data map[string]string) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
