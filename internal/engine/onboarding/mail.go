package onboarding

import (
	"bytes"
	"html/template"
)

const invitationSubject = "Onboarding request"

var invitationTemplate = template.Must(template.New("invitation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <p>You have been invited to join your team.</p>
  <p><a href="{{.Link}}">Complete your registration</a></p>
  <p>This link expires in {{.ValidFor}} and can be used once.</p>
</body>
</html>
`))

func renderInvitation(link, validFor string) (string, error) {
	var buf bytes.Buffer
	err := invitationTemplate.Execute(&buf, struct {
		Link     string
		ValidFor string
	}{link, validFor})
	return buf.String(), err
}
