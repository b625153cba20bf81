// Package format renders conversation data as short human-readable text.
package format

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/projecthub/hubchat/internal/models"
)

// MaxBadge is the largest unread count shown verbatim.
const MaxBadge = 99

// EditedSuffix marks messages changed after sending.
const EditedSuffix = " (edited)"

// Timestamp formats t relative to now: a clock time for today, a weekday for
// the last week, a date otherwise.
func Timestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	switch {
	case y1 == y2 && m1 == m2 && d1 == d2:
		return t.Format("15:04")
	case now.Sub(t) < 7*24*time.Hour && t.Before(now):
		return t.Format("Mon 15:04")
	case y1 == y2:
		return t.Format("Jan 2")
	default:
		return t.Format("Jan 2, 2006")
	}
}

// Relative formats t as "3 minutes ago".
func Relative(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// FileSize formats a byte count as "1.2 MB".
func FileSize(n int64) string {
	if n < 0 {
		return ""
	}
	return humanize.Bytes(uint64(n))
}

// UnreadBadge returns the badge text for n unread messages, empty for none.
func UnreadBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > MaxBadge:
		return fmt.Sprintf("%d+", MaxBadge)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// Preview collapses whitespace and shortens s to at most maxRunes runes.
func Preview(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	if maxRunes <= 1 {
		return "…"
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:maxRunes-1]), " ") + "…"
}

// MessageBody returns the text to render for m. Deleted messages show only
// the placeholder; edited ones carry a marker.
func MessageBody(m models.Message) string {
	if m.IsDeleted {
		return m.DisplayContent()
	}
	body := m.DisplayContent()
	if m.IsEdited() {
		body += EditedSuffix
	}
	return body
}

// Attachment describes one attachment as "name (type, size)".
func Attachment(a models.Attachment) string {
	var meta []string
	if a.FileType != "" {
		meta = append(meta, a.FileType)
	}
	if a.FileSizeBytes > 0 {
		meta = append(meta, FileSize(a.FileSizeBytes))
	}
	if len(meta) == 0 {
		return a.FileName
	}
	return fmt.Sprintf("%s (%s)", a.FileName, strings.Join(meta, ", "))
}

// LastMessage renders a sidebar summary, prefixing "You: " for the viewer's
// own messages.
func LastMessage(s *models.MessageSummary, viewerID models.ID, maxRunes int) string {
	if s == nil {
		return "No messages yet"
	}
	content := s.Content
	if content == "" && s.Kind == "file" {
		content = "Sent an attachment"
	}
	if models.SameID(s.SenderID, viewerID) {
		content = "You: " + content
	}
	return Preview(content, maxRunes)
}
