package pgx

import "strings"

// sanitizeText drops what Postgres rejects in text columns: NUL bytes and
// invalid UTF-8. Model output and extracted triples may contain both.
func sanitizeText(value string) string {
	if value == "" {
		return value
	}
	return strings.ReplaceAll(strings.ToValidUTF8(value, ""), "\x00", "")
}
