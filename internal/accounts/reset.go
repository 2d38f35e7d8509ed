package accounts

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"html/template"
	"time"
)

// resetTokenBytes is the entropy of a password-reset token.
const resetTokenBytes = 32

// generateSecureToken returns a hex-encoded random token of n bytes.
func generateSecureToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// digestToken is the stored form of a reset token; the raw value only ever
// exists in the email.
func digestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var resetEmailTmpl = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222;">
  <p>Hi {{.Name}},</p>
  <p>We received a request to reset the password on your gallery account.
  Use the link below to choose a new one. It expires in {{.Minutes}} minutes.</p>
  <p><a href="{{.Link}}">Reset your password</a></p>
  <p>If you did not ask for this, you can ignore this email.</p>
</body>
</html>
`))

func renderResetEmail(name, link string, ttl time.Duration) (string, error) {
	var buf bytes.Buffer
	err := resetEmailTmpl.Execute(&buf, struct {
		Name    string
		Link    string
		Minutes int
	}{Name: name, Link: link, Minutes: int(ttl.Minutes())})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
