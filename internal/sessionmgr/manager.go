// Package sessionmgr owns the WebSocket lifecycle: login, IDENTIFY,
// the heartbeat-gated Ready state, reconnect with backoff, and the
// voice-channel join handshake.
package sessionmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"github.com/corvusbot/corvus/internal/cache"
	"github.com/corvusbot/corvus/internal/dispatch"
	"github.com/corvusbot/corvus/internal/eventbus"
	"github.com/corvusbot/corvus/internal/gatewaytransport"
	"github.com/corvusbot/corvus/internal/model"
	"github.com/corvusbot/corvus/internal/restapi"
	"github.com/corvusbot/corvus/internal/tokencache"
	"github.com/corvusbot/corvus/internal/webhook"
)

// ErrInvalidAuthentication is returned from Run when credentials are
// fatally rejected.
var ErrInvalidAuthentication = errors.New("sessionmgr: invalid authentication")

// sentinelTokenIdentity is the identity value that makes the login
// routine treat the secret as the token itself, bypassing the cache
// and REST login entirely.
const sentinelTokenIdentity = "token"

const (
	loginMaxAttempts = 100
	loginRetryDelay  = 5 * time.Second
)

// Config bundles the Manager's fixed dependencies and identity.
type Config struct {
	Identity string
	Secret   string
	BotName  string

	Rest       *restapi.Client
	TokenCache tokencache.Store
	Cache      *cache.Store
	Bus        *eventbus.Bus
	Dispatcher *dispatch.Dispatcher

	Logger *slog.Logger

	// OSName is reported in the IDENTIFY properties. Defaults to "linux".
	OSName string
	// ClientName is reported as both $browser and $device in IDENTIFY.
	ClientName string

	// Webhook, if non-nil, receives session lifecycle notifications.
	Webhook *webhook.Notifier
}

// Manager runs the Disconnected/Connecting/Authenticating/Ready state machine.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	conn       *gatewaytransport.Conn
	rest       *restapi.Client
	tokens     tokencache.Store
	cache      *cache.Store
	bus        *eventbus.Bus
	dispatcher *dispatch.Dispatcher
	backoff    *Backoff

	VoiceConstructor VoiceConstructor
	voice            voiceState

	mu        sync.Mutex
	state     State
	token     string
	stopCh    chan struct{}
	stoppedCh chan struct{}
	userStop  bool
	botID     uint64

	// RunErr is the fatal error (if any) observed by the most recent Run.
	RunErr error
}

// New returns a Manager ready for Run.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OSName == "" {
		cfg.OSName = "linux"
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "corvus"
	}
	m := &Manager{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "sessionmgr"),
		rest:       cfg.Rest,
		tokens:     cfg.TokenCache,
		cache:      cfg.Cache,
		bus:        cfg.Bus,
		dispatcher: cfg.Dispatcher,
		backoff:    NewBackoff(),
		state:      Disconnected,
	}
	m.bus.On(model.KindVoiceStateUpdate, nil, m.onVoiceStateUpdate)
	m.bus.On(model.KindVoiceServerUpdate, nil, m.onVoiceServerUpdate)
	m.bus.On(model.KindReady, nil, m.onReady)
	return m
}

func (m *Manager) botUserID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botID
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.logger.Debug("state transition", "state", s.String())
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Conn returns the active gateway connection, or nil if no session is
// currently established.
func (m *Manager) Conn() *gatewaytransport.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// onReady resets the backoff and requests guild members for every
// known server, matching the op=8 request-members behavior on READY.
func (m *Manager) onReady(payload any) {
	m.backoff.Reset()
	ev, ok := payload.(model.ReadyEvent)
	if !ok {
		return
	}
	m.mu.Lock()
	m.botID = ev.BotUser.ID
	conn := m.conn
	m.mu.Unlock()
	m.dispatcher.SetBotUserID(ev.BotUser.ID)
	m.cfg.Webhook.NotifyReady(m.cfg.ClientName, len(ev.ServerIDs))

	if conn == nil || len(ev.ServerIDs) == 0 {
		return
	}
	ids := make([]string, len(ev.ServerIDs))
	for i, id := range ev.ServerIDs {
		ids[i] = strconv.FormatUint(id, 10)
	}
	if err := conn.SendRequestMembers(context.Background(), gatewaytransport.RequestMembersData{GuildID: ids}); err != nil {
		m.logger.Error("failed to request guild members", "guild_ids", ids, "error", err)
	}
}

// isTransient reports whether err should be retried by the login
// routine (DNS failure or HTTP 523), as opposed to a fatal 4xx.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *restapi.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 523
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return strings.Contains(err.Error(), "No such host is known")
}

// login resolves the session token: sentinel identity short-circuits
// to the secret itself; otherwise consult the token cache, falling
// back to REST login and persisting the result.
func (m *Manager) login(ctx context.Context) (string, error) {
	if m.cfg.Identity == sentinelTokenIdentity {
		return m.cfg.Secret, nil
	}

	if token, ok, err := m.tokens.Lookup(ctx, m.cfg.Identity, m.cfg.Secret); err == nil && ok {
		return token, nil
	}

	var lastErr error
	for attempt := 1; attempt <= loginMaxAttempts; attempt++ {
		result, err := m.rest.Login(ctx, m.cfg.Identity, m.cfg.Secret)
		if err == nil {
			if err := m.tokens.Store(ctx, m.cfg.Identity, m.cfg.Secret, result.Token); err != nil {
				m.logger.Error("failed to persist token", "error", err)
			}
			return result.Token, nil
		}

		if !isTransient(err) {
			return "", fmt.Errorf("%w: %v", ErrInvalidAuthentication, err)
		}
		lastErr = err
		m.logger.Warn("transient login failure, retrying", "attempt", attempt, "error", err)

		select {
		case <-time.After(loginRetryDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("login: exceeded %d attempts: %w", loginMaxAttempts, lastErr)
}

// Run drives the state machine until Stop is called or a fatal error
// occurs. If async is false it blocks until the session terminates.
func (m *Manager) Run(ctx context.Context, async bool) error {
	m.mu.Lock()
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})
	m.userStop = false
	m.mu.Unlock()

	if async {
		go m.loop(ctx)
		return nil
	}
	m.loop(ctx)
	return m.RunErr
}

// Stop forcibly terminates the current session and prevents reconnect.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.userStop = true
	stop := m.stopCh
	conn := m.conn
	m.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.setState(Disconnecting)
}

// Wait blocks until a Run started with async=true has terminated.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.stoppedCh
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Manager) loop(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		done := m.stoppedCh
		m.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	attempt := 0
	for {
		m.mu.Lock()
		userStop := m.userStop
		m.mu.Unlock()
		if userStop {
			m.setState(Disconnected)
			return
		}

		err := m.connectAndServe(ctx)

		m.mu.Lock()
		userStop = m.userStop
		m.mu.Unlock()
		if userStop {
			m.setState(Disconnected)
			return
		}

		if errors.Is(err, ErrInvalidAuthentication) {
			m.RunErr = err
			m.setState(Disconnected)
			return
		}

		m.setState(Disconnected)
		attempt++
		delay := m.backoff.Next()
		m.logger.Info("reconnecting",
			"attempt", humanize.Ordinal(attempt),
			"delay", durafmt.Parse(delay).String(),
			"error", err)
		m.cfg.Webhook.NotifyDisconnected(m.cfg.ClientName, err)
		m.cfg.Webhook.NotifyReconnecting(m.cfg.ClientName, attempt, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndServe runs one Connecting -> Authenticating -> Ready ->
// Disconnecting cycle and returns the error (if any) that ended it.
func (m *Manager) connectAndServe(ctx context.Context) error {
	m.setState(Connecting)

	token, err := m.login(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.token = token
	m.rest.SetToken(token)
	m.mu.Unlock()

	gatewayURL, err := m.rest.Gateway(ctx)
	if err != nil {
		m.logger.Warn("gateway discovery failed, using default endpoint", "error", err)
		gatewayURL = ""
	}

	conn := gatewaytransport.New(m.logger)
	if gatewayURL != "" {
		conn.SetURL(gatewayURL)
	}
	readyCh := make(chan struct{}, 1)
	closeCh := make(chan error, 1)
	connectedAt := time.Now()

	conn.OnReady = func(sessionID string, interval time.Duration) {
		m.logger.Info("session ready",
			"session_id", sessionID,
			"heartbeat_interval", durafmt.Parse(interval).String())
		select {
		case readyCh <- struct{}{}:
		default:
		}
	}
	conn.OnDispatch = func(eventType string, data json.RawMessage) {
		m.dispatcher.Handle(eventType, data)
	}
	conn.OnClose = func(err error) {
		select {
		case closeCh <- err:
		default:
		}
	}

	if err := conn.Dial(ctx); err != nil {
		return fmt.Errorf("%w: %v", restapi.ErrTransport, err)
	}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	defer func() {
		_ = conn.Close()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
	}()

	m.setState(Authenticating)
	if err := conn.SendIdentify(ctx, gatewaytransport.IdentifyData{
		Token: token,
		Properties: gatewaytransport.IdentifyProperties{
			OS:              m.cfg.OSName,
			Browser:         m.cfg.ClientName,
			Device:          m.cfg.ClientName,
			Referrer:        "",
			ReferringDomain: "",
		},
		LargeThreshold: 100,
	}); err != nil {
		return fmt.Errorf("%w: %v", restapi.ErrTransport, err)
	}

	select {
	case <-readyCh:
	case err := <-closeCh:
		if err == nil {
			err = restapi.ErrTransport
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	m.setState(Ready)
	select {
	case err := <-closeCh:
		m.logger.Info("session disconnected", "uptime", durafmt.Parse(time.Since(connectedAt)).String(), "error", err)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
