package accounts

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail folds an address into the form used as the unique key:
// NFKC-normalized, trimmed, lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(email)))
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// looksLikeEmail is a shallow shape check; deliverability is the mailer's problem.
func looksLikeEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n") && strings.Contains(email[at+1:], ".")
}
