package emailutil

import "strings"

// Normalize lowercases an address and trims surrounding whitespace.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Redact keeps the first character of the local part and the domain, so a
// customer can be recognised in logs without recording the full address.
// Values that are not a single local@domain pair redact to "***".
func Redact(email string) string {
	local, domain, ok := strings.Cut(Normalize(email), "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "***"
	}
	return local[:1] + "***@" + domain
}
