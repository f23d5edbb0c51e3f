// Package client talks to the console API server. It implements
// console.Backend and the account calls the CLI needs.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zhouzirui/ulink/backend/internal/console"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
)

// maxEventBytes bounds one SSE line.
const maxEventBytes = 1 << 20

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// LoginResponse is returned by Login.
type LoginResponse struct {
	Token string       `json:"token"`
	User  user.Profile `json:"user"`
}

// BackupResult summarises a server-side export run.
type BackupResult struct {
	File     string    `json:"file"`
	Exported int       `json:"exported"`
	Deleted  int64     `json:"deleted"`
	At       time.Time `json:"at"`
}

// StreamEvent is one SSE chunk from the chat stream endpoint.
type StreamEvent struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client is safe for concurrent use.
type Client struct {
	base       *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a client for the server at baseURL.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid server url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{base: u, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, path, query, body, contentType)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &payload)
	return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
}

// Login exchanges credentials for a token and remembers it.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	var res LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/users/login", nil, map[string]string{"username": username, "password": password}, &res)
	if err != nil {
		return LoginResponse{}, err
	}
	c.SetToken(res.Token)
	return res, nil
}

// Me returns the profile behind the current token.
func (c *Client) Me(ctx context.Context) (user.Profile, error) {
	var p user.Profile
	return p, c.do(ctx, http.MethodGet, "/api/users/me", nil, nil, &p)
}

// ListAssistants returns the assistants the caller may use, filtered by
// query when non-empty.
func (c *Client) ListAssistants(ctx context.Context, query string) ([]assistant.Assistant, error) {
	var q url.Values
	if query != "" {
		q = url.Values{"q": {query}}
	}
	var items []assistant.Assistant
	return items, c.do(ctx, http.MethodGet, "/api/assistants", q, nil, &items)
}

// CreateServerSession implements console.Backend.
func (c *Client) CreateServerSession(ctx context.Context, req console.CreateSessionRequest) (chat.SessionRecord, error) {
	var rec chat.SessionRecord
	return rec, c.do(ctx, http.MethodPost, "/api/sessions/create", nil, req, &rec)
}

// FetchChatHistory implements console.Backend.
func (c *Client) FetchChatHistory(ctx context.Context, userID, assistantID string) ([]chat.SessionRecord, error) {
	q := url.Values{"userId": {userID}, "assistantId": {assistantID}}
	var records []chat.SessionRecord
	return records, c.do(ctx, http.MethodGet, "/api/chats/history", q, nil, &records)
}

// UpdateSessionTitle implements console.Backend.
func (c *Client) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	return c.do(ctx, http.MethodPut, "/api/chats/title", nil, map[string]string{"sessionId": sessionID, "title": title}, nil)
}

// PostChatMessage implements console.Backend. It posts the message and
// attachments as multipart and returns the final assistant message from the
// event stream.
func (c *Client) PostChatMessage(ctx context.Context, req console.ChatRequest, attachments []console.Attachment) (string, error) {
	return c.StreamChat(ctx, req, attachments, nil)
}

// StreamChat is PostChatMessage with a callback for every delta.
func (c *Client) StreamChat(ctx context.Context, req console.ChatRequest, attachments []console.Attachment, onDelta func(string)) (string, error) {
	body, contentType, err := encodeMultipart(req, attachments)
	if err != nil {
		return "", err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chats/stream", nil, body, contentType)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "POST /api/chats/stream")
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		return "", errors.Errorf("unexpected stream content type %q", mt)
	}
	return readStream(resp.Body, onDelta)
}

func encodeMultipart(req console.ChatRequest, attachments []console.Attachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, "", errors.Wrap(err, "encode chat payload")
	}
	if err := mw.WriteField("payload", string(payload)); err != nil {
		return nil, "", errors.Wrap(err, "write payload field")
	}
	for _, att := range attachments {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, att.Name))
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", errors.Wrap(err, "create file part")
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, "", errors.Wrap(err, "write file part")
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", errors.Wrap(err, "close multipart")
	}
	return &buf, mw.FormDataContentType(), nil
}

// readStream consumes "data: {json}" lines until the end event. The final
// message event wins; without one the deltas are joined.
func readStream(r io.Reader, onDelta func(string)) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventBytes)

	var (
		deltas  strings.Builder
		message string
		gotMsg  bool
	)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &ev); err != nil {
			return "", errors.Wrap(err, "decode stream event")
		}
		switch ev.Event {
		case "delta":
			deltas.WriteString(ev.Content)
			if onDelta != nil {
				onDelta(ev.Content)
			}
		case "message":
			message, gotMsg = ev.Content, true
		case "error":
			return "", errors.Errorf("stream error: %s", ev.Error)
		case "end":
			if gotMsg {
				return message, nil
			}
			return deltas.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "read stream")
	}
	if gotMsg {
		return message, nil
	}
	return "", errors.New("stream ended without a reply")
}

// ExportSession downloads a transcript and returns its suggested filename.
func (c *Client) ExportSession(ctx context.Context, sessionID string) (string, []byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(sessionID)+"/export", nil, nil, "")
	if err != nil {
		return "", nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, errors.Wrap(err, "export session")
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, errors.Wrap(err, "read transcript")
	}
	name := sessionID + ".md"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return name, data, nil
}

// ExportAll asks the server to back up and purge every session.
func (c *Client) ExportAll(ctx context.Context) (BackupResult, error) {
	var res BackupResult
	return res, c.do(ctx, http.MethodPost, "/api/chats/export-all", nil, nil, &res)
}

// UserInput is the body for creating or updating an account. A nil
// AssistantIDs leaves grants unchanged on update.
type UserInput struct {
	Username     string    `json:"username,omitempty"`
	Password     string    `json:"password,omitempty"`
	AssistantIDs *[]string `json:"assistantIds,omitempty"`
}

// ListUsers returns non-admin accounts.
func (c *Client) ListUsers(ctx context.Context) ([]user.User, error) {
	var users []user.User
	return users, c.do(ctx, http.MethodGet, "/api/users/list", nil, nil, &users)
}

// CreateUser registers an account.
func (c *Client) CreateUser(ctx context.Context, in UserInput) (user.User, error) {
	var u user.User
	return u, c.do(ctx, http.MethodPost, "/api/users/create", nil, in, &u)
}

// UpdateUser edits an account.
func (c *Client) UpdateUser(ctx context.Context, id string, in UserInput) (user.User, error) {
	var u user.User
	return u, c.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(id), nil, in, &u)
}

// DeleteUser removes an account with no sessions.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/users/"+url.PathEscape(id), nil, nil, nil)
}

// ResetPassword sets a new password for id.
func (c *Client) ResetPassword(ctx context.Context, id, password string) error {
	return c.do(ctx, http.MethodPost, "/api/users/"+url.PathEscape(id)+"/reset-password", nil, map[string]string{"password": password}, nil)
}

// DialGuided opens the guided-flow websocket for assistantKey.
func (c *Client) DialGuided(ctx context.Context, assistantKey string) (*websocket.Conn, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/api/guided/" + url.PathEscape(assistantKey) + "/ws"

	header := http.Header{}
	if token := c.bearer(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if statusErr := checkStatus(resp); statusErr != nil {
				return nil, statusErr
			}
		}
		return nil, errors.Wrap(err, "dial guided flow")
	}
	return conn, nil
}

var _ console.Backend = (*Client)(nil)
