// Package remote is the HTTP and WebSocket client of the wirechat server. A
// Client satisfies the backend contract of the sync core, so rooms and
// inboxes run unchanged against a remote server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Client calls the REST and WebSocket API with one bearer token.
type Client struct {
	base   *url.URL
	token  string
	userID string

	http   *http.Client
	buffer int
	log    *zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBuffer sets the event buffer of subscriptions.
func WithBuffer(n int) Option {
	return func(c *Client) { c.buffer = n }
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a client for the server at baseURL. The user id is read from
// the token subject.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	userID, err := auth.SubjectOf(token)
	if err != nil {
		return nil, err
	}

	nop := zerolog.Nop()
	c := &Client{
		base:   base,
		token:  token,
		userID: userID,
		http:   &http.Client{Timeout: 15 * time.Second},
		buffer: realtime.DefaultBuffer,
		log:    &nop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UserID returns the identity the client acts as.
func (c *Client) UserID() string { return c.userID }

// GetConversation fetches a conversation by id.
func (c *Client) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var conv store.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// QueryConversation looks up the conversation between a and b.
func (c *Client) QueryConversation(ctx context.Context, a, b string) (*store.Conversation, error) {
	q := url.Values{"a": {a}, "b": {b}}
	var conv store.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/lookup", q, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations lists the caller's conversations with their last message.
func (c *Client) ListConversations(ctx context.Context) ([]*store.ConversationPreview, error) {
	var previews []*store.ConversationPreview
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, nil, &previews); err != nil {
		return nil, err
	}
	return previews, nil
}

// InsertConversation creates the conversation between a and b.
func (c *Client) InsertConversation(ctx context.Context, a, b string) (*store.Conversation, error) {
	req := proto.CreateConversationRequest{ParticipantA: a, ParticipantB: b}
	var conv store.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", nil, req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// QueryMessages fetches messages after q.After. A zero limit reads every
// page until the server returns a short one, since the server caps a single
// page at proto.MaxPageSize.
func (c *Client) QueryMessages(ctx context.Context, q store.MessageQuery) ([]*store.Message, error) {
	if q.Limit < 0 || q.Limit > proto.MaxPageSize {
		return nil, fmt.Errorf("%w: limit must be within 0..%d", store.ErrInvalidArgument, proto.MaxPageSize)
	}
	if q.Limit > 0 {
		return c.queryMessagePage(ctx, q)
	}

	var all []*store.Message
	q.Limit = proto.MaxPageSize
	for {
		page, err := c.queryMessagePage(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < q.Limit {
			return all, nil
		}
		last := page[len(page)-1]
		q.After = &store.MessageCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

func (c *Client) queryMessagePage(ctx context.Context, q store.MessageQuery) ([]*store.Message, error) {
	params := url.Values{"limit": {strconv.Itoa(q.Limit)}}
	if q.After != nil {
		params.Set("after_ts", q.After.CreatedAt.UTC().Format(time.RFC3339Nano))
		if q.After.ID != "" {
			params.Set("after_id", q.After.ID)
		}
	}

	var msgs []*store.Message
	path := "/api/conversations/" + url.PathEscape(q.ConversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, params, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// InsertMessage posts a message.
func (c *Client) InsertMessage(ctx context.Context, conversationID, senderID string, body store.Body) (*store.Message, error) {
	req := proto.SendMessageRequest{SenderID: senderID, Text: body.Text, MediaURL: body.MediaURL}
	var msg store.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, nil, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// QueryProfiles fetches the profiles that exist among ids.
func (c *Client) QueryProfiles(ctx context.Context, ids []string) (map[string]*store.Profile, error) {
	profiles := map[string]*store.Profile{}
	if len(ids) == 0 {
		return profiles, nil
	}
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	if err := c.do(ctx, http.MethodGet, "/api/profiles", q, nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// UpsertProfile replaces the caller's profile.
func (c *Client) UpsertProfile(ctx context.Context, p store.Profile) (*store.Profile, error) {
	req := proto.UpsertProfileRequest{Username: p.Username, Email: p.Email, AvatarURL: p.AvatarURL}
	var out store.Profile
	if err := c.do(ctx, http.MethodPut, "/api/profile", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProfiles reads the user directory. Zero limit returns every profile.
func (c *Client) ListProfiles(ctx context.Context, limit int) ([]*store.Profile, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var profiles []*store.Profile
	if err := c.do(ctx, http.MethodGet, "/api/users", q, nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// LookupProfile finds a user by email.
func (c *Client) LookupProfile(ctx context.Context, email string) (*store.Profile, error) {
	var p store.Profile
	if err := c.do(ctx, http.MethodGet, "/api/users/lookup", url.Values{"email": {email}}, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListContacts returns the caller's contacts.
func (c *Client) ListContacts(ctx context.Context) ([]*store.Contact, error) {
	var contacts []*store.Contact
	if err := c.do(ctx, http.MethodGet, "/api/contacts", nil, nil, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// AddContactByEmail adds the user registered with email.
func (c *Client) AddContactByEmail(ctx context.Context, email string) (*store.Contact, error) {
	var contact store.Contact
	if err := c.do(ctx, http.MethodPost, "/api/contacts", nil, proto.AddContactRequest{Email: email}, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// RemoveContact drops a contact by user id.
func (c *Client) RemoveContact(ctx context.Context, contactID string) error {
	return c.do(ctx, http.MethodDelete, "/api/contacts/"+url.PathEscape(contactID), nil, nil, nil)
}

// do performs one JSON request. Error responses come back wrapping the
// store sentinel named by their code.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func errorFrom(resp *http.Response) error {
	var e proto.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &e); err != nil || e.Code == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return e.Err()
}

