package chat

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

// RenderMarkdown formats a session as a downloadable transcript.
func RenderMarkdown(session chat.Session, assistantName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", session.Title)
	fmt.Fprintf(&b, "- Assistant: %s\n", assistantName)
	fmt.Fprintf(&b, "- Session: %s\n", session.ID)
	fmt.Fprintf(&b, "- Created: %s\n\n", session.CreatedAt.Format("2006-01-02 15:04 MST"))

	for _, msg := range session.Messages {
		speaker := "You"
		if msg.Role == chat.RoleAssistant {
			speaker = assistantName
		}
		fmt.Fprintf(&b, "**%s** (%s)\n\n%s\n\n", speaker, msg.CreatedAt.Format("15:04"), msg.Content)
	}
	return b.String()
}

// ExportFilename is a filesystem-safe name for a session transcript.
func ExportFilename(session chat.Session) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, session.Title)
	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if slug == "" {
		slug = "chat"
	}
	return fmt.Sprintf("%s-%s.md", slug, session.CreatedAt.Format("20060102"))
}
