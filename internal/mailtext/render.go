package mailtext

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/averdugo/taskmail/internal/gmail"
)

// Locale selects the language for rendered timestamps and placeholders.
type Locale string

const (
	LocaleES Locale = "es"
	LocaleEN Locale = "en"
)

// threadSeparator joins per-message renders in RenderThread.
const threadSeparator = "\n\n---\n\n"

var (
	weekdaysES = [7]string{"dom", "lun", "mar", "mié", "jue", "vie", "sáb"}
	weekdaysEN = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

	monthsES = [12]string{"ene", "feb", "mar", "abr", "may", "jun", "jul", "ago", "sep", "oct", "nov", "dic"}
	monthsEN = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
)

// FormatTimestamp renders an epoch-milliseconds timestamp as
// "El <weekday>, <day> <month> <year> a las <HH:MM>" in the given zone.
// Abbreviations carry no trailing punctuation.
func FormatTimestamp(epochMillis int64, loc *time.Location, locale Locale) string {
	if loc == nil {
		loc = time.UTC
	}
	t := time.UnixMilli(epochMillis).In(loc)

	var weekday, month string
	switch locale {
	case LocaleEN:
		weekday = weekdaysEN[t.Weekday()]
		month = monthsEN[t.Month()-1]
	default:
		weekday = weekdaysES[t.Weekday()]
		month = monthsES[t.Month()-1]
	}

	return fmt.Sprintf("El %s, %d %s %d a las %02d:%02d",
		weekday, t.Day(), month, t.Year(), t.Hour(), t.Minute())
}

var angleAddrRe = regexp.MustCompile(`<([^>]+)>`)

// ExtractAddress returns the angle-bracketed address from a From/To header
// value, or the trimmed raw value when no brackets are present.
func ExtractAddress(headerValue string) string {
	if m := angleAddrRe.FindStringSubmatch(headerValue); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(headerValue)
}

// emptyBodyPlaceholder stands in when a message has no usable text.
func emptyBodyPlaceholder(locale Locale) string {
	if locale == LocaleEN {
		return "(no content)"
	}
	return "(sin contenido)"
}

// RenderMessage composes the comment text for one message: timestamp line,
// sender and recipient addresses, then the quote-stripped body.
func RenderMessage(msg *gmail.Message, loc *time.Location, locale Locale) string {
	body := StripQuotedAndSignature(SelectPlainText(msg.Payload))
	if body == "" {
		body = emptyBodyPlaceholder(locale)
	}

	lines := []string{
		FormatTimestamp(msg.InternalDate, loc, locale),
		"From: " + ExtractAddress(msg.Header("From")),
		"To: " + ExtractAddress(msg.Header("To")),
		"",
		body,
	}
	return strings.Join(lines, "\n")
}

// RenderThread renders a whole conversation, oldest message first.
// The input slice is not modified.
func RenderThread(msgs []*gmail.Message, loc *time.Location, locale Locale) string {
	sorted := make([]*gmail.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InternalDate < sorted[j].InternalDate
	})

	parts := make([]string, len(sorted))
	for i, m := range sorted {
		parts[i] = RenderMessage(m, loc, locale)
	}
	return strings.Join(parts, threadSeparator)
}
