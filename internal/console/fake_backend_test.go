package console

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/ulink/backend/internal/kvstore"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

var errBackendDown = errors.New("backend unreachable")

type fakeBackend struct {
	mu sync.Mutex

	createErr    error
	createRecord chat.SessionRecord
	createCalls  int

	history      []chat.SessionRecord
	historyErr   error
	historyCalls int

	titleErr error
	titles   map[string]string

	chatReply    string
	chatErr      error
	chatRequests []ChatRequest
	attachments  [][]Attachment
}

func (f *fakeBackend) CreateServerSession(_ context.Context, req CreateSessionRequest) (chat.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return chat.SessionRecord{}, f.createErr
	}
	record := f.createRecord
	record.AssistantID = req.AssistantID
	return record, nil
}

func (f *fakeBackend) FetchChatHistory(_ context.Context, _, _ string) ([]chat.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	return f.history, f.historyErr
}

func (f *fakeBackend) UpdateSessionTitle(_ context.Context, sessionID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.titles == nil {
		f.titles = make(map[string]string)
	}
	if f.titleErr != nil {
		return f.titleErr
	}
	f.titles[sessionID] = title
	return nil
}

func (f *fakeBackend) PostChatMessage(_ context.Context, req ChatRequest, attachments []Attachment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatRequests = append(f.chatRequests, req)
	f.attachments = append(f.attachments, attachments)
	return f.chatReply, f.chatErr
}

// fixedClock advances one second per call so UpdatedAt ordering is observable.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestManager(backend Backend, assistants []assistant.Assistant) (*Manager, *Cache) {
	cache := NewCache(kvstore.NewMemory(), "")
	ids := 0
	m, err := NewManager(Config{
		Assistants: assistant.NewMemoryStore(assistants),
		Cache:      cache,
		Backend:    backend,
		Now:        newClock().Now,
		NewID: func() string {
			ids++
			return "local-" + string(rune('0'+ids))
		},
	})
	if err != nil {
		panic(err)
	}
	return m, cache
}

func testAssistants(webhookURL string) []assistant.Assistant {
	return []assistant.Assistant{
		{Key: "ulink-general", DisplayName: "Ulink", RoutingKind: assistant.RoutingInternal},
		{Key: "document-review", DisplayName: "Docs", RoutingKind: assistant.RoutingInternal, IsFirstReply: true},
		{Key: "my-doctor", DisplayName: "MY Doctor", RoutingKind: assistant.RoutingWebhook, WebhookURL: webhookURL},
		{Key: "sg-doctor", DisplayName: "SG Doctor", RoutingKind: assistant.RoutingWebhook, WebhookURL: webhookURL},
		{Key: "fm-clinic", DisplayName: "FM Clinic", RoutingKind: assistant.RoutingWebhook, WebhookURL: "PLACEHOLDER_WEBHOOK_URL_4"},
	}
}
