// Package mailto builds mailto: links that open the visitor's own mail client with a prefilled draft.
package mailto

import (
	"net/url"
	"strings"
)

const scheme = "mailto:"

// Link returns a mailto URI for recipient with a percent-encoded subject and body.
// Empty subject or body parameters are omitted.
func Link(recipient string, subject string, body string) string {
	var builder strings.Builder
	builder.WriteString(scheme)
	builder.WriteString(url.PathEscape(strings.TrimSpace(recipient)))

	parameters := make([]string, 0, 2)
	if subject != "" {
		parameters = append(parameters, "subject="+escape(subject))
	}
	if body != "" {
		parameters = append(parameters, "body="+escape(normalizeLineBreaks(body)))
	}
	if len(parameters) > 0 {
		builder.WriteString("?")
		builder.WriteString(strings.Join(parameters, "&"))
	}
	return builder.String()
}

// Mail clients expect %20 rather than '+' for spaces.
func escape(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

func normalizeLineBreaks(value string) string {
	unified := strings.ReplaceAll(value, "\r\n", "\n")
	return strings.ReplaceAll(unified, "\n", "\r\n")
}
