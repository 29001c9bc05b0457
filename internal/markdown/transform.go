// Package markdown provides pure string transforms applied to generated
// text before it reaches a platform surface.
package markdown

import (
	"regexp"
	"strings"
)

var (
	thinkRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	lineRe  = regexp.MustCompile(`(?m)^`)
	blankRe = regexp.MustCompile(`\n+`)
)

// Transform rewrites reasoning spans (<think>...</think>) as blockquotes and
// collapses runs of blank lines. Chat platforms render the result as a
// dimmed preamble above the actual reply.
func Transform(s string) string {
	out := thinkRe.ReplaceAllStringFunc(s, func(m string) string {
		inner := thinkRe.FindStringSubmatch(m)[1]
		return "\n" + lineRe.ReplaceAllString(inner, "> ") + "\n"
	})
	return blankRe.ReplaceAllString(out, "\n")
}

// TrimmedTransform applies Transform and strips leading/trailing whitespace.
func TrimmedTransform(s string) string {
	return strings.TrimSpace(Transform(s))
}
