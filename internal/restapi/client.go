// Package restapi is the synchronous HTTPS request/response client for
// the handful of Discord REST endpoints the gateway core invokes. It
// is deliberately narrow: login, gateway discovery, channel lookup,
// private-channel creation, message sending, invites, server
// creation, and OAuth application management. Anything else (the full
// channel/message/server CRUD surface) is out of scope — the core
// only needs the contract, not the catalogue.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/corvusbot/corvus/internal/model"
)

const defaultBaseURL = "https://discord.com/api/v6"

// Client is the REST client. Every request carries the bot-identity
// header configured at construction: identity is set once on a
// constructor rather than threaded through every call.
type Client struct {
	httpClient *http.Client
	baseURL    string
	botName    string
	token      string
	logger     *slog.Logger

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	data      any
	expiresAt time.Time
}

const cacheTTL = 30 * time.Second

// New returns a REST client that identifies itself with botName and
// authenticates with the token passed to SetToken (none until then).
func New(botName string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		botName:    botName,
		logger:     logger.With("component", "restapi"),
		cache:      make(map[string]cacheEntry),
	}
}

// SetToken updates the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) { c.token = token }

// SetBaseURL overrides the API base URL; used by tests to point at a
// local httptest server instead of Discord's real host.
func (c *Client) SetBaseURL(url string) { c.baseURL = url }

func (c *Client) getCached(key string) (any, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	e, ok := c.cache[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

func (c *Client) setCached(key string, data any) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[key] = cacheEntry{data: data, expiresAt: time.Now().Add(cacheTTL)}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("X-Bot-Name", c.botName)
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	retryAfter := 0.0
	if resp.StatusCode == http.StatusTooManyRequests {
		var rl struct {
			RetryAfter float64 `json:"retry_after"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&rl)
		retryAfter = rl.RetryAfter
	} else if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return classify(resp.StatusCode, retryAfter)
}

func parseID(s string) uint64 {
	id, _ := strconv.ParseUint(s, 10, 64)
	return id
}

// LoginResult is the response of Login: the issued session token.
type LoginResult struct {
	Token string
}

// Login exchanges an identity/secret pair for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{email, password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	return &LoginResult{Token: resp.Token}, nil
}

// Gateway returns the WebSocket URL to dial for the real-time gateway.
func (c *Client) Gateway(ctx context.Context) (string, error) {
	const key = "gateway:url"
	if cached, ok := c.getCached(key); ok {
		return cached.(string), nil
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/gateway", nil, &resp); err != nil {
		return "", err
	}
	c.setCached(key, resp.URL)
	return resp.URL, nil
}

type channelWire struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	GuildID     string `json:"guild_id"`
	Topic       string `json:"topic"`
	Position    int    `json:"position"`
	RecipientID string `json:"recipient_id"`
}

func (w channelWire) toModel() *model.Channel {
	ch := &model.Channel{
		ID:          parseID(w.ID),
		Name:        w.Name,
		ServerID:    parseID(w.GuildID),
		Topic:       w.Topic,
		Position:    w.Position,
		RecipientID: parseID(w.RecipientID),
	}
	switch w.Type {
	case "voice":
		ch.Type = model.ChannelVoice
	case "private":
		ch.Type = model.ChannelPrivate
	default:
		ch.Type = model.ChannelText
	}
	return ch
}

// Channel fetches a channel by id, used by the facade's cache-miss fallback.
func (c *Client) Channel(ctx context.Context, id uint64) (*model.Channel, error) {
	key := "channel:" + strconv.FormatUint(id, 10)
	if cached, ok := c.getCached(key); ok {
		return cached.(*model.Channel), nil
	}
	var w channelWire
	if err := c.do(ctx, http.MethodGet, "/channels/"+strconv.FormatUint(id, 10), nil, &w); err != nil {
		return nil, err
	}
	ch := w.toModel()
	c.setCached(key, ch)
	return ch, nil
}

// CreatePrivate opens (or returns the existing) DM channel with a recipient.
func (c *Client) CreatePrivate(ctx context.Context, recipientID uint64) (*model.Channel, error) {
	var w channelWire
	body := struct {
		RecipientID string `json:"recipient_id"`
	}{strconv.FormatUint(recipientID, 10)}
	if err := c.do(ctx, http.MethodPost, "/users/@me/channels", body, &w); err != nil {
		return nil, err
	}
	return w.toModel(), nil
}

type messageWire struct {
	ID        string   `json:"id"`
	ChannelID string   `json:"channel_id"`
	AuthorID  string   `json:"author_id"`
	Content   string   `json:"content"`
	Mentions  []string `json:"mentions"`
	TTS       bool     `json:"tts"`
}

func (w messageWire) toModel() *model.Message {
	m := &model.Message{
		ID:        parseID(w.ID),
		ChannelID: parseID(w.ChannelID),
		AuthorID:  parseID(w.AuthorID),
		Content:   w.Content,
		TTS:       w.TTS,
		Timestamp: time.Now().UTC(),
	}
	for _, s := range w.Mentions {
		m.Mentions = append(m.Mentions, parseID(s))
	}
	return m
}

// SendMessage posts a text message to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID uint64, content string, tts bool) (*model.Message, error) {
	if r := []rune(content); len(r) > 2000 {
		content = string(r[:2000])
	}
	var w messageWire
	body := struct {
		Content string `json:"content"`
		TTS     bool   `json:"tts"`
	}{content, tts}
	path := fmt.Sprintf("/channels/%d/messages", channelID)
	if err := c.do(ctx, http.MethodPost, path, body, &w); err != nil {
		return nil, err
	}
	return w.toModel(), nil
}

// SendFile posts a message with a single file attachment.
func (c *Client) SendFile(ctx context.Context, channelID uint64, filename string, data []byte, content string) (*model.Message, error) {
	var w messageWire
	body := struct {
		Content  string `json:"content"`
		Filename string `json:"filename"`
		Size     int    `json:"size"`
	}{content, filename, len(data)}
	path := fmt.Sprintf("/channels/%d/messages", channelID)
	if err := c.do(ctx, http.MethodPost, path, body, &w); err != nil {
		return nil, err
	}
	return w.toModel(), nil
}

type inviteWire struct {
	Code  string `json:"code"`
	Guild struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"guild"`
	Channel struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"channel"`
	Uses      int  `json:"uses"`
	MaxUses   int  `json:"max_uses"`
	MaxAge    int  `json:"max_age"`
	Temporary bool `json:"temporary"`
}

func (w inviteWire) toModel() *model.Invite {
	return &model.Invite{
		Code:      w.Code,
		Server:    model.InviteServer{ID: parseID(w.Guild.ID), Name: w.Guild.Name},
		Channel:   model.InviteChannel{ID: parseID(w.Channel.ID), Name: w.Channel.Name},
		Uses:      w.Uses,
		MaxUses:   w.MaxUses,
		MaxAge:    w.MaxAge,
		Temporary: w.Temporary,
	}
}

// ResolveInvite looks up an invite by code without accepting it.
func (c *Client) ResolveInvite(ctx context.Context, code string) (*model.Invite, error) {
	var w inviteWire
	if err := c.do(ctx, http.MethodGet, "/invites/"+code, nil, &w); err != nil {
		return nil, err
	}
	return w.toModel(), nil
}

// JoinServer accepts an invite by code.
func (c *Client) JoinServer(ctx context.Context, code string) (*model.Invite, error) {
	var w inviteWire
	if err := c.do(ctx, http.MethodPost, "/invites/"+code, nil, &w); err != nil {
		return nil, err
	}
	return w.toModel(), nil
}

// DeleteInvite revokes an invite by code.
func (c *Client) DeleteInvite(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodDelete, "/invites/"+code, nil, nil)
}

type serverWire struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Region  string `json:"region"`
	OwnerID string `json:"owner_id"`
}

func (w serverWire) toModel() *model.Server {
	s := model.NewServer(parseID(w.ID))
	s.Name = w.Name
	s.Region = w.Region
	s.OwnerID = parseID(w.OwnerID)
	return s
}

// CreateServer creates a new server owned by the bot.
func (c *Client) CreateServer(ctx context.Context, name, region string) (*model.Server, error) {
	var w serverWire
	body := struct {
		Name   string `json:"name"`
		Region string `json:"region"`
	}{name, region}
	if err := c.do(ctx, http.MethodPost, "/guilds", body, &w); err != nil {
		return nil, err
	}
	return w.toModel(), nil
}

// OAuthApplication is the subset of an OAuth application Discord returns.
type OAuthApplication struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	RedirectURIs []string `json:"redirect_uris"`
}

// CreateOAuthApplication registers a new OAuth application.
func (c *Client) CreateOAuthApplication(ctx context.Context, name string) (*OAuthApplication, error) {
	var app OAuthApplication
	body := struct {
		Name string `json:"name"`
	}{name}
	if err := c.do(ctx, http.MethodPost, "/oauth2/applications", body, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// UpdateOAuthApplication updates an existing OAuth application's fields.
func (c *Client) UpdateOAuthApplication(ctx context.Context, id string, app OAuthApplication) (*OAuthApplication, error) {
	var out OAuthApplication
	if err := c.do(ctx, http.MethodPut, "/oauth2/applications/"+id, app, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
