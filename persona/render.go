package persona

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

// Patterns for stripping markdown formatting, mirroring the plain-text
// conversion a markdown-to-email renderer would use.
var (
	mdBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic     = regexp.MustCompile(`\*(.+?)\*`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdCodeBlock  = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
)

// RenderDescriptionHTML renders a persona's markdown description as an
// HTML fragment, for front ends that can display it directly.
func RenderDescriptionHTML(cfg Config) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(cfg.Description), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderDescriptionPlain strips markdown formatting from a persona's
// description, for the "deploy" CLI output where only plain text is wanted.
func RenderDescriptionPlain(cfg Config) string {
	return markdownToPlain(cfg.Description)
}

// RenderPromptTemplatePlain is RenderDescriptionPlain's counterpart for
// promptTemplate.
func RenderPromptTemplatePlain(cfg Config) string {
	return markdownToPlain(cfg.PromptTemplate)
}

func markdownToPlain(md string) string {
	s := md
	s = mdCodeBlock.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1 ($2)")
	s = mdBold.ReplaceAllString(s, "$1")
	s = mdItalic.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
