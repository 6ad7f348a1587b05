package corvus

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corvusbot/corvus/internal/tokencache"
	"github.com/corvusbot/corvus/internal/webhook"
)

// Option configures a Session at construction time.
type Option func(*settings)

type settings struct {
	identity string
	secret   string
	botName  string

	tokens tokencache.Store

	logger *slog.Logger

	osName     string
	clientName string

	workerLimit int
	parseSelf   bool

	webhookURL string

	tokenCacheErr error
}

func defaultSettings() *settings {
	return &settings{
		botName: "corvus",
		tokens:  tokencache.NewFileStore("corvus-tokens.json"),
	}
}

// WithIdentity sets the login identity/secret pair. Pass "token" as
// identity to treat secret as the session token itself.
func WithIdentity(identity, secret string) Option {
	return func(s *settings) { s.identity, s.secret = identity, secret }
}

// WithBotName sets the bot-identity header value sent on every REST request.
func WithBotName(name string) Option {
	return func(s *settings) { s.botName = name }
}

// WithLogger overrides the default slog logger used throughout the session.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithFileTokenCache stores the session token in a local JSON file at path.
func WithFileTokenCache(path string) Option {
	return func(s *settings) { s.tokens = tokencache.NewFileStore(path) }
}

// WithPostgresTokenCache stores the session token in a Postgres database.
func WithPostgresTokenCache(databaseURL string) Option {
	return func(s *settings) {
		store, err := tokencache.NewPostgresStore(databaseURL)
		if err != nil {
			// recorded and surfaced at Session construction time via
			// the settings.tokenCacheErr field rather than here, since
			// Option values cannot return errors.
			s.tokenCacheErr = err
			return
		}
		s.tokens = store
	}
}

// WithRedisTokenCache stores the session token in Redis with the given TTL.
func WithRedisTokenCache(client *redis.Client, ttl time.Duration) Option {
	return func(s *settings) { s.tokens = tokencache.NewRedisStore(client, ttl) }
}

// WithOSName overrides the $os field sent in IDENTIFY. Defaults to "linux".
func WithOSName(name string) Option {
	return func(s *settings) { s.osName = name }
}

// WithClientName overrides the $browser/$device fields sent in IDENTIFY.
func WithClientName(name string) Option {
	return func(s *settings) { s.clientName = name }
}

// WithHandlerWorkerLimit bounds concurrent handler goroutines. Zero
// (the default) means unbounded, matching the reference design.
func WithHandlerWorkerLimit(n int) Option {
	return func(s *settings) { s.workerLimit = n }
}

// WithParseSelf makes MESSAGE_CREATE raise events for messages
// authored by the bot's own user. Off by default.
func WithParseSelf() Option {
	return func(s *settings) { s.parseSelf = true }
}

// WithWebhook posts session lifecycle notifications (disconnects,
// reconnect attempts, ready) to a Discord webhook URL. Unset by default.
func WithWebhook(url string) Option {
	return func(s *settings) { s.webhookURL = url }
}

func (s *settings) webhookNotifier() *webhook.Notifier {
	return webhook.NewNotifier(s.webhookURL, s.logger)
}
