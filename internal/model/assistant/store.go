package assistant

import "strings"

// Store exposes assistant lookup for services and handlers.
type Store interface {
	List() []Assistant
	FindByKey(key string) (Assistant, bool)
}

// MemoryStore implements Store over a fixed slice loaded at startup.
type MemoryStore struct {
	items []Assistant
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied assistants.
// Webhook URLs are expanded against the environment.
func NewMemoryStore(items []Assistant) *MemoryStore {
	copied := make([]Assistant, 0, len(items))
	for _, item := range items {
		item.WebhookURL = expandEnv(item.WebhookURL)
		copied = append(copied, item)
	}
	return &MemoryStore{items: copied}
}

// List returns every registered assistant.
func (s *MemoryStore) List() []Assistant {
	return append([]Assistant(nil), s.items...)
}

// FindByKey looks up an assistant by its stable key.
func (s *MemoryStore) FindByKey(key string) (Assistant, bool) {
	for _, item := range s.items {
		if item.Key == key {
			return item, true
		}
	}
	return Assistant{}, false
}

// Filter returns the assistants whose key or display name contains query,
// ignoring case. An empty query returns everything.
func Filter(items []Assistant, query string) []Assistant {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return items
	}

	out := make([]Assistant, 0, len(items))
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.DisplayName), q) || strings.Contains(strings.ToLower(item.Key), q) {
			out = append(out, item)
		}
	}
	return out
}

// Enabled drops assistants that were switched off in configuration.
func Enabled(items []Assistant) []Assistant {
	out := make([]Assistant, 0, len(items))
	for _, item := range items {
		if item.IsEnabled() {
			out = append(out, item)
		}
	}
	return out
}
