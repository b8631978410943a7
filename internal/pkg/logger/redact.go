package logger

import "strings"

// RedactEmail masks a recipient address so engagement logs never carry a full
// email. Keeps the first two characters of the local part and the full domain:
// "jordan@example.com" becomes "jo***@example.com". Local parts of two
// characters or fewer are masked entirely.
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
