package assistant

import "strings"

// Labels holds user-chosen display names keyed by assistant key.
type Labels map[string]string

// Name returns the override for key, else the registry display name,
// else "Chatbot".
func (l Labels) Name(key string, items []Assistant) string {
	if name := strings.TrimSpace(l[key]); name != "" {
		return name
	}
	for _, item := range items {
		if item.Key == key && item.DisplayName != "" {
			return item.DisplayName
		}
	}
	return "Chatbot"
}

// Set stores an override; a blank name resets the assistant to its default.
func (l Labels) Set(key, name string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		delete(l, key)
		return
	}
	l[key] = trimmed
}
