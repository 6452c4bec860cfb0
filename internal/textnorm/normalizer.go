package textnorm

import (
	"regexp"
	"strings"
)

// CodeBlockRule decides what becomes of fenced code blocks.
type CodeBlockRule string

const (
	CodeBlockSkip        CodeBlockRule = "skip"
	CodeBlockPlaceholder CodeBlockRule = "placeholder"
	CodeBlockRead        CodeBlockRule = "read"
)

func ValidCodeBlockRule(r CodeBlockRule) bool {
	switch r {
	case CodeBlockSkip, CodeBlockPlaceholder, CodeBlockRead:
		return true
	}
	return false
}

var (
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	imageRe      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	boldItalicRe = regexp.MustCompile(`\*{1,3}([^*]+)\*{1,3}`)
	underscoreRe = regexp.MustCompile(`_{1,3}([^_]+)_{1,3}`)
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	hrRe         = regexp.MustCompile(`^[-*_]{3,}$`)
	spacesRe     = regexp.MustCompile(`[ \t]+`)
	blankRunsRe  = regexp.MustCompile(`\n{3,}`)
)

// Normalize turns markdown into plain prose suitable for speech
// synthesis. It is synchronous and side-effect free; the orchestrator
// calls it once per chunk with the episode's code-block rule.
func Normalize(text string, rule CodeBlockRule) string {
	var out []string
	inCodeBlock := false

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "```") {
			if inCodeBlock {
				inCodeBlock = false
				if rule == CodeBlockPlaceholder {
					out = append(out, "(Code block omitted.)")
				}
			} else {
				inCodeBlock = true
			}
			continue
		}
		if inCodeBlock {
			if rule == CodeBlockRead && stripped != "" {
				out = append(out, stripped)
			}
			continue
		}

		if heading, ok := strings.CutPrefix(stripped, "#"); ok {
			heading = strings.TrimSpace(strings.TrimLeft(heading, "#"))
			if heading != "" {
				out = append(out, "Section: "+heading+".")
			}
			continue
		}

		// Images before links: the image pattern is a superset.
		stripped = imageRe.ReplaceAllString(stripped, "(Image: $1)")
		stripped = linkRe.ReplaceAllString(stripped, "$1")
		stripped = boldItalicRe.ReplaceAllString(stripped, "$1")
		stripped = underscoreRe.ReplaceAllString(stripped, "$1")
		stripped = inlineCodeRe.ReplaceAllString(stripped, "$1")

		if hrRe.MatchString(stripped) {
			continue
		}

		if stripped != "" {
			out = append(out, stripped)
		}
	}

	return cleanWhitespace(strings.Join(out, "\n\n"))
}

func cleanWhitespace(text string) string {
	text = spacesRe.ReplaceAllString(text, " ")
	text = blankRunsRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
