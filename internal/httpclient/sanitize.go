package httpclient

import "regexp"

// ptrRegexp matches pointer-like hex tokens that some transports embed in
// error strings (e.g. "read tcp ... conn 0x1400010e000").
var ptrRegexp = regexp.MustCompile(`0x[0-9a-fA-F]+`)

// Sanitize strips pointer-like tokens from an error or body string before it
// is logged or persisted.
func Sanitize(s string) string {
	return ptrRegexp.ReplaceAllString(s, "<ptr>")
}

// SanitizeErr is a nil-safe convenience over Sanitize.
func SanitizeErr(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}
