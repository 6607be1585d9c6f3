// Package mailtext normalizes Gmail message content into plain text
// suitable for task comments. All functions are pure and deterministic.
package mailtext

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/averdugo/taskmail/internal/gmail"
)

// DecodeBody decodes transport-encoded body data. Gmail uses URL-safe
// base64, usually unpadded; standard base64 shows up in older payloads.
// Invalid input yields "" rather than an error.
func DecodeBody(raw string) string {
	if raw == "" {
		return ""
	}

	s := strings.Map(func(r rune) rune {
		switch r {
		case '-':
			return '+'
		case '_':
			return '/'
		}
		return r
	}, raw)

	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	return EnsureUTF8(string(data))
}

// SelectPlainText picks the best textual representation from a payload
// part tree. A text/plain leaf anywhere in the tree wins outright; failing
// that, the first text/html leaf is decoded and stripped of markup; failing
// that, children are tried in order and the first non-empty result wins.
// A tree with no textual leaf yields "".
func SelectPlainText(part *gmail.Part) string {
	if part == nil {
		return ""
	}

	if data := findLeaf(part, "text/plain"); data != "" {
		return DecodeBody(data)
	}
	if data := findLeaf(part, "text/html"); data != "" {
		return StripMarkup(DecodeBody(data))
	}
	for _, child := range part.Parts {
		if text := SelectPlainText(child); text != "" {
			return text
		}
	}
	return ""
}

// findLeaf returns the body data of the first leaf with the given MIME
// type, depth first.
func findLeaf(part *gmail.Part, mimeType string) string {
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != "" {
		return part.Body
	}
	for _, child := range part.Parts {
		if data := findLeaf(child, mimeType); data != "" {
			return data
		}
	}
	return ""
}

var (
	styleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)

	hspaceRe   = regexp.MustCompile(`[ \t]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// entityReplacer decodes the six entities that dominate email HTML.
// Full entity decoding is not worth the dependency for comment text.
var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&amp;", "&",
)

// StripMarkup converts HTML to plain text: style and script blocks are
// dropped with their content, remaining tags collapse to a space, common
// entities are decoded, and whitespace is normalized.
func StripMarkup(html string) string {
	s := styleRe.ReplaceAllString(html, " ")
	s = scriptRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = entityReplacer.Replace(s)

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = hspaceRe.ReplaceAllString(s, " ")

	// Trim the spaces tag-stripping leaves around line breaks
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// quoteIntroRes match lines that introduce quoted reply or forwarded
// content. Both English and Spanish clients appear in the monitored
// mailbox.
var quoteIntroRes = []*regexp.Regexp{
	regexp.MustCompile(`^On .+ wrote:\s*$`),
	regexp.MustCompile(`^El .+ escribió:\s*$`),
	regexp.MustCompile(`(?i)^-+ ?forwarded message ?-+`),
	regexp.MustCompile(`(?i)^-+ ?original message ?-+`),
	regexp.MustCompile(`(?i)^-+ ?mensaje original ?-+`),
}

// StripQuotedAndSignature removes quoted reply history and trailing
// signatures. Content is truncated at the earliest quote-introduction
// marker, then at a standard "-- " signature delimiter, and any surviving
// ">"-quoted lines are dropped. Idempotent.
func StripQuotedAndSignature(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	// Earliest-match policy: the first line matching any marker wins,
	// not the first marker in the list.
	cut := len(lines)
	for i, line := range lines {
		for _, re := range quoteIntroRes {
			if re.MatchString(line) {
				cut = i
				break
			}
		}
		if cut == i {
			break
		}
	}
	lines = lines[:cut]

	for i, line := range lines {
		if strings.TrimRight(line, " \t") == "--" {
			lines = lines[:i]
			break
		}
	}

	var kept []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}
