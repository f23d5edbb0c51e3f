package console

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ulink/backend/internal/kvstore"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

// CacheNamespace is the key the session cache is persisted under.
const CacheNamespace = "ulink.chat.v1"

type cacheState struct {
	Sessions []chat.Session `json:"sessions"`
}

// Cache is the local, durable record of sessions. It is read once with Load
// and written back after every mutation.
type Cache struct {
	mu       sync.Mutex
	blobs    kvstore.Store
	key      string
	sessions []chat.Session
}

// NewCache binds a cache to a blob store under namespace (CacheNamespace
// when empty).
func NewCache(blobs kvstore.Store, namespace string) *Cache {
	if namespace == "" {
		namespace = CacheNamespace
	}
	return &Cache{blobs: blobs, key: namespace}
}

// Load replaces the in-memory state with the persisted blob. A missing or
// unreadable blob yields an empty cache.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions = nil
	data, err := c.blobs.Get(ctx, c.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load session cache")
	}

	var state cacheState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn().Err(err).Str("namespace", c.key).Msg("discarding unreadable session cache")
		return nil
	}
	c.sessions = state.Sessions
	return nil
}

func (c *Cache) saveLocked(ctx context.Context) error {
	sessions := c.sessions
	if sessions == nil {
		sessions = []chat.Session{}
	}
	data, err := json.Marshal(cacheState{Sessions: sessions})
	if err != nil {
		return errors.Wrap(err, "encode session cache")
	}
	if err := c.blobs.Put(ctx, c.key, data); err != nil {
		return errors.Wrap(err, "save session cache")
	}
	return nil
}

// List returns the sessions of one assistant, most recently updated first.
func (c *Cache) List(assistantKey string) []chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]chat.Session, 0)
	for _, s := range c.sessions {
		if s.AssistantKey == assistantKey {
			out = append(out, s.Clone())
		}
	}
	sortByUpdated(out)
	return out
}

// Get returns a copy of the session with id.
func (c *Cache) Get(id string) (chat.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexLocked(id); i >= 0 {
		return c.sessions[i].Clone(), true
	}
	return chat.Session{}, false
}

// Add stores sessions whose ids are not cached yet and persists the cache.
func (c *Cache) Add(ctx context.Context, sessions ...chat.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range sessions {
		if s.ID == "" || c.indexLocked(s.ID) >= 0 {
			continue
		}
		if s.Messages == nil {
			s.Messages = []chat.Message{}
		}
		c.sessions = append(c.sessions, s.Clone())
	}
	return c.saveLocked(ctx)
}

// Append adds msg to the session and bumps UpdatedAt. It reports false when
// the session is unknown. The in-memory append stands even if persisting fails.
func (c *Cache) Append(ctx context.Context, id string, msg chat.Message) (chat.Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(id)
	if i < 0 {
		return chat.Session{}, false, nil
	}

	s := &c.sessions[i]
	s.Messages = append(s.Messages, msg)
	if msg.CreatedAt.After(s.UpdatedAt) {
		s.UpdatedAt = msg.CreatedAt
	}
	return s.Clone(), true, c.saveLocked(ctx)
}

// SetTitle renames a cached session.
func (c *Cache) SetTitle(ctx context.Context, id, title string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	c.sessions[i].Title = title
	return true, c.saveLocked(ctx)
}

// Reset drops every cached session, in memory and on disk.
func (c *Cache) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions = nil
	if err := c.blobs.Delete(ctx, c.key); err != nil {
		return errors.Wrap(err, "reset session cache")
	}
	return nil
}

func (c *Cache) indexLocked(id string) int {
	for i := range c.sessions {
		if c.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func sortByUpdated(sessions []chat.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}
