package console

import (
	"strings"
	"unicode/utf8"

	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

const (
	maxTitleLen       = 50
	truncatedTitleLen = 47
	titleEllipsis     = "..."

	// FirstReplyTitleInternal names sessions opened by a synthetic greeting
	// to an INTERNAL assistant.
	FirstReplyTitleInternal = "Upload Documents"
	// FirstReplyTitleWebhook names sessions opened by a synthetic greeting
	// to a WEBHOOK assistant.
	FirstReplyTitleWebhook = "New Conversation"
)

// DeriveTitle turns the first message of a session into its title.
func DeriveTitle(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if t == "" {
		return chat.DefaultTitle
	}
	if utf8.RuneCountInString(t) > maxTitleLen {
		runes := []rune(t)
		return string(runes[:truncatedTitleLen]) + titleEllipsis
	}
	return t
}

// FirstReplyTitle returns the fixed title used for synthetic greeting turns.
func FirstReplyTitle(kind assistant.RoutingKind) string {
	if kind == assistant.RoutingWebhook {
		return FirstReplyTitleWebhook
	}
	return FirstReplyTitleInternal
}
