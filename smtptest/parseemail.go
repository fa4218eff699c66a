package smtptest

import (
	"regexp"
	"strings"
)

// headerPattern matches one "Name: value" header line at the start of a line.
var headerPattern = regexp.MustCompile(`(?m)^([A-Za-z0-9-]+):[ \t]*(.*?)\r?$`)

// ExtractHeader returns the value of the first header called name in a
// captured message body, or "" if there isn't one. Only the header block
// (everything before the first blank line) is searched, and the name is
// matched case-insensitively.
func ExtractHeader(body string, name string) string {
	if body == "" {
		return ""
	}
	head := body
	if i := strings.Index(body, "\r\n\r\n"); i >= 0 {
		head = body[:i]
	}
	for _, m := range headerPattern.FindAllStringSubmatch(head, -1) {
		if strings.EqualFold(m[1], name) {
			return m[2]
		}
	}
	return ""
}

// ExtractBody returns whatever follows the header block of a captured
// message, or "" if there is no blank line separating the two.
func ExtractBody(body string) string {
	i := strings.Index(body, "\r\n\r\n")
	if i < 0 {
		return ""
	}
	return body[i+4:]
}
